package securechannel

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

// aesBlockSize is AES's fixed block size; PKCS7 padding always pads to it.
const aesBlockSize = 16

// DerivedKeys holds the six symmetric keys produced by key derivation
// for one direction pair: local and remote signing/encryption keys and
// IVs.
type DerivedKeys struct {
	LocalSigningKey, RemoteSigningKey    []byte
	LocalEncryptionKey, RemoteEncryptionKey []byte
	LocalIV, RemoteIV                    []byte
}

func newHash(sign SymmetricSignAlgorithm) func() hash.Hash {
	if sign == SignHMACSHA256 {
		return sha256.New
	}
	return sha1.New
}

// pSHA implements the P_SHA-1 / P_SHA-256 pseudo-random function from
// TLS 1.0/1.2 §5, used verbatim by OPC UA key derivation: repeatedly
// HMAC the secret over a running chain seeded with `seed`, concatenate
// until at least `length` bytes are produced.
func pSHA(newH func() hash.Hash, secret, seed []byte, length int) []byte {
	var out []byte
	a := seed
	for len(out) < length {
		mac := hmac.New(newH, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(newH, secret)
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)
	}
	return out[:length]
}

// DeriveKeys derives all six symmetric keys from the nonce pair
// exchanged during Issue or Renew, re-run on every token issuance and
// renewal. remoteNonce/localNonce order matches the
// direction they protect: "local" keys are derived with the remote
// peer's nonce as the PRF secret and the local nonce as the seed, and
// vice versa, per OPC UA Part 6 §6.7.5.
func DeriveKeys(policy SecurityPolicy, remoteNonce, localNonce []byte) (DerivedKeys, error) {
	if policy.URI == PolicyNone.URI {
		return DerivedKeys{}, nil
	}
	newH := newHash(policy.Sign)

	localMaterial := pSHA(newH, remoteNonce, localNonce, policy.SigningKeyLen+policy.SymmetricKeyLen+policy.IVLen)
	remoteMaterial := pSHA(newH, localNonce, remoteNonce, policy.SigningKeyLen+policy.SymmetricKeyLen+policy.IVLen)

	split := func(material []byte) (signKey, encKey, iv []byte) {
		signKey = material[:policy.SigningKeyLen]
		encKey = material[policy.SigningKeyLen : policy.SigningKeyLen+policy.SymmetricKeyLen]
		iv = material[policy.SigningKeyLen+policy.SymmetricKeyLen:]
		return
	}

	lsk, lek, liv := split(localMaterial)
	rsk, rek, riv := split(remoteMaterial)

	return DerivedKeys{
		LocalSigningKey:         lsk,
		LocalEncryptionKey:      lek,
		LocalIV:                 liv,
		RemoteSigningKey:        rsk,
		RemoteEncryptionKey:     rek,
		RemoteIV:                riv,
	}, nil
}

// GenerateNonce returns a fresh CSPRNG nonce of the policy's required
// length. Policy None has no nonce requirement but the protocol still
// exchanges an (unused) byte string; callers may pass length 0.
func GenerateNonce(length int) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("securechannel: nonce generation: %w", err)
	}
	return buf, nil
}

// sign computes the HMAC over data using key, per policy.Sign.
func sign(policy SecurityPolicy, key, data []byte) []byte {
	mac := hmac.New(newHash(policy.Sign), key)
	mac.Write(data)
	return mac.Sum(nil)
}

// verify reports whether sig matches the expected HMAC of data under key.
func verify(policy SecurityPolicy, key, data, sig []byte) bool {
	expected := sign(policy, key, data)
	return hmac.Equal(expected, sig)
}

// encryptCBC encrypts plaintext with AES-CBC under key/iv. Callers pad
// to the AES block size beforehand.
func encryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("securechannel: plaintext not block-aligned")
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("securechannel: ciphertext not block-aligned")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("securechannel: empty padded block")
	}
	padLen := int(data[len(data)-1])
	if padLen <= 0 || padLen > len(data) {
		return nil, fmt.Errorf("securechannel: invalid PKCS7 padding")
	}
	return data[:len(data)-padLen], nil
}
