package securechannel

import (
	"crypto/x509"
	"sync"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/codec"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// Channel is the per-connection cryptographic state of a
// SecureChannel. It is owned exclusively by its driver
// goroutine — the mutex here guards only the fields the
// admin/metrics surfaces read from outside that goroutine (IsIssued),
// never the crypto material itself, which the driver alone
// touches.
type Channel struct {
	mu sync.RWMutex

	ID      uint32
	TokenID uint32

	Policy SecurityPolicy
	Mode   SecurityMode

	LocalCert  *x509.Certificate
	RemoteCert *x509.Certificate

	LocalNonce  []byte
	RemoteNonce []byte

	Keys DerivedKeys

	sendSeq uint32
	recvSeq uint32

	TokenIssuedAt   time.Time
	TokenLifetime   time.Duration

	issued bool
}

// NewChannel constructs an unissued channel with the given id and
// starting sequence numbers. Starting values may be random;
// callers typically seed from crypto/rand.
func NewChannel(id uint32, sendSeqStart, recvSeqStart uint32) *Channel {
	return &Channel{ID: id, sendSeq: sendSeqStart, recvSeq: recvSeqStart}
}

// IsIssued reports whether OpenSecureChannel has completed at least once.
func (c *Channel) IsIssued() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.issued
}

// NextSendSequence advances and returns the next outbound sequence number.
func (c *Channel) NextSendSequence() uint32 {
	c.sendSeq = codec.NextSequenceNumber(c.sendSeq)
	return c.sendSeq
}

// CurrentSendSequence returns the last outbound sequence number issued,
// without advancing it — used by the chunker to seed a multi-chunk send.
func (c *Channel) CurrentSendSequence() uint32 { return c.sendSeq }

// SetSendSequence overwrites the outbound counter, used after a
// multi-chunk send advances it locally.
func (c *Channel) SetSendSequence(v uint32) { c.sendSeq = v }

// CheckRecvSequence validates an inbound sequence number is exactly
// one past the last seen (gap-free), advancing state.
func (c *Channel) CheckRecvSequence(got uint32) bool {
	want := codec.NextSequenceNumber(c.recvSeq)
	if got != want {
		return false
	}
	c.recvSeq = got
	return true
}

// Issue installs fresh channel state from an Open/Renew exchange:
// nonces, derived keys and the token lifecycle. It must be called with
// the driver's exclusive ownership already held — the driver is
// single-threaded w.r.t. its channel.
func (c *Channel) Issue(policy SecurityPolicy, mode SecurityMode, tokenID uint32, remoteNonce, localNonce []byte, lifetime time.Duration, now time.Time) error {
	c.Policy = policy
	c.Mode = mode
	c.TokenID = tokenID
	c.RemoteNonce = remoteNonce
	c.LocalNonce = localNonce
	c.TokenIssuedAt = now
	c.TokenLifetime = lifetime

	if policy.URI != PolicyNone.URI && mode != ModeNone {
		keys, err := DeriveKeys(policy, remoteNonce, localNonce)
		if err != nil {
			return err
		}
		c.Keys = keys
	}

	c.mu.Lock()
	c.issued = true
	c.mu.Unlock()
	return nil
}

// Protect implements codec.Protector: signs then encrypts, per mode.
func (c *Channel) Protect(header []byte, payload []byte) ([]byte, error) {
	if c.Mode == ModeNone || c.Policy.URI == PolicyNone.URI {
		return payload, nil
	}
	body := payload
	if c.Mode == ModeSignAndEncrypt {
		sig := sign(c.Policy, c.Keys.LocalSigningKey, append(append([]byte{}, header...), body...))
		plain := padPKCS7(append(body, sig...), aesBlockSize)
		enc, err := encryptCBC(c.Keys.LocalEncryptionKey, c.Keys.LocalIV, plain)
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
	// Sign only.
	sig := sign(c.Policy, c.Keys.LocalSigningKey, append(append([]byte{}, header...), body...))
	return append(body, sig...), nil
}

// Unprotect implements codec.Protector: decrypts then verifies,
// failing closed with ua.BadSecurityChecksFailed. Decryption precedes
// signature verification, so a failed signature fails the chunk.
func (c *Channel) Unprotect(header []byte, protected []byte) ([]byte, ua.StatusCode) {
	if c.Mode == ModeNone || c.Policy.URI == PolicyNone.URI {
		return protected, ua.Good
	}
	body := protected
	if c.Mode == ModeSignAndEncrypt {
		dec, err := decryptCBC(c.Keys.RemoteEncryptionKey, c.Keys.RemoteIV, protected)
		if err != nil {
			return nil, ua.BadSecurityChecksFailed
		}
		unpadded, err := unpadPKCS7(dec)
		if err != nil {
			return nil, ua.BadSecurityChecksFailed
		}
		body = unpadded
	}
	sigLen := len(sign(c.Policy, c.Keys.RemoteSigningKey, []byte{}))
	if len(body) < sigLen {
		return nil, ua.BadSecurityChecksFailed
	}
	plain, sig := body[:len(body)-sigLen], body[len(body)-sigLen:]
	if !verify(c.Policy, c.Keys.RemoteSigningKey, append(append([]byte{}, header...), plain...), sig) {
		return nil, ua.BadSecurityChecksFailed
	}
	return plain, ua.Good
}
