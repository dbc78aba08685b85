package pki

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// pemTypeEncryptedKey marks a PEM-wrapped private key whose payload is
// AES-256-GCM ciphertext, keyed by PBKDF2(passphrase, salt). Headers
// carry the salt so LoadServerKey never needs a side-channel for it.
const (
	pemTypeEncryptedKey = "OPCUA SERVER ENCRYPTED PRIVATE KEY"
	pbkdf2Iterations    = 100_000
	saltHeader          = "Salt"
)

// LoadServerKey reads the server's certificate and private key for
// TLS/secure-channel use. If keyPath's PEM block is of type
// pemTypeEncryptedKey, it is decrypted with passphrase first;
// otherwise it is loaded as a plain PKCS#8/EC/RSA key.
func LoadServerKey(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("pki: read server cert: %w", err)
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("pki: read server key: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("pki: %s contains no PEM data", keyPath)
	}

	keyPEM := keyData
	if block.Type == pemTypeEncryptedKey {
		plain, err := decryptKey(block, passphrase)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("pki: decrypt server key: %w", err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: plain})
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("pki: build key pair: %w", err)
	}
	return cert, nil
}

// EncryptKey wraps a PKCS#8 DER private key behind a passphrase, for
// writing out the PEM file LoadServerKey reads back. Used by
// provisioning tooling, not the running server.
func EncryptKey(keyDER []byte, passphrase string) (*pem.Block, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("pki: generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("pki: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, keyDER, nil)

	return &pem.Block{
		Type: pemTypeEncryptedKey,
		Headers: map[string]string{
			saltHeader: hex.EncodeToString(salt),
		},
		Bytes: ciphertext,
	}, nil
}

func decryptKey(block *pem.Block, passphrase string) ([]byte, error) {
	saltHex, ok := block.Headers[saltHeader]
	if !ok {
		return nil, fmt.Errorf("missing %s header", saltHeader)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("invalid salt header: %w", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}
	if len(block.Bytes) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := block.Bytes[:gcm.NonceSize()], block.Bytes[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wrong passphrase or corrupt key: %w", err)
	}
	if _, err := x509.ParsePKCS8PrivateKey(plain); err != nil {
		return nil, fmt.Errorf("decrypted payload is not a PKCS#8 key: %w", err)
	}
	return plain, nil
}
