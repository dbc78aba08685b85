// Package securechannel implements the per-connection cryptographic
// state machine: policy/mode selection, key derivation, nonce and
// token lifecycle, and sequence numbering.
//
// RSA/AES/HMAC/SHA are implemented directly on Go's crypto/* standard
// library rather than a third-party package — see DESIGN.md for why no
// library in the retrieval pack offered a better fit for these
// primitives.
package securechannel

import (
	"fmt"
)

// SecurityMode is the per-message protection level.
type SecurityMode uint8

const (
	ModeInvalid SecurityMode = iota
	ModeNone
	ModeSign
	ModeSignAndEncrypt
)

func (m SecurityMode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModeSign:
		return "Sign"
	case ModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// AsymmetricAlgorithm selects the asymmetric encryption scheme used to
// protect the OpenSecureChannel exchange.
type AsymmetricAlgorithm uint8

const (
	AsymRSA15 AsymmetricAlgorithm = iota // RSA-PKCS1-v15
	AsymRSAOAEP
)

// SymmetricSignAlgorithm selects the HMAC variant for Sign/SignAndEncrypt.
type SymmetricSignAlgorithm uint8

const (
	SignHMACSHA1 SymmetricSignAlgorithm = iota
	SignHMACSHA256
)

// SymmetricEncryptAlgorithm selects the block cipher for SignAndEncrypt.
type SymmetricEncryptAlgorithm uint8

const (
	EncryptAES128CBC SymmetricEncryptAlgorithm = iota
	EncryptAES256CBC
)

// SecurityPolicy bundles the URI identifying a policy with the
// algorithm choices and key sizes it implies.
type SecurityPolicy struct {
	URI               string
	Asymmetric        AsymmetricAlgorithm
	Sign              SymmetricSignAlgorithm
	Encrypt           SymmetricEncryptAlgorithm
	SymmetricKeyLen   int // bytes
	SigningKeyLen     int // bytes
	IVLen             int // bytes
	NonceLen          int // bytes, required client/server nonce length
	SignatureLen      int // bytes, asymmetric signature length placeholder (cert-dependent in practice)
}

// The four security policies supported at minimum.
var (
	PolicyNone = SecurityPolicy{
		URI: "http://opcfoundation.org/UA/SecurityPolicy#None",
	}
	PolicyBasic128Rsa15 = SecurityPolicy{
		URI:             "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15",
		Asymmetric:      AsymRSA15,
		Sign:            SignHMACSHA1,
		Encrypt:         EncryptAES128CBC,
		SymmetricKeyLen: 16,
		SigningKeyLen:   16,
		IVLen:           16,
		NonceLen:        16,
	}
	PolicyBasic256 = SecurityPolicy{
		URI:             "http://opcfoundation.org/UA/SecurityPolicy#Basic256",
		Asymmetric:      AsymRSAOAEP,
		Sign:            SignHMACSHA1,
		Encrypt:         EncryptAES256CBC,
		SymmetricKeyLen: 32,
		SigningKeyLen:   24,
		IVLen:           16,
		NonceLen:        32,
	}
	PolicyBasic256Sha256 = SecurityPolicy{
		URI:             "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256",
		Asymmetric:      AsymRSAOAEP,
		Sign:            SignHMACSHA256,
		Encrypt:         EncryptAES256CBC,
		SymmetricKeyLen: 32,
		SigningKeyLen:   32,
		IVLen:           16,
		NonceLen:        32,
	}
)

var policiesByURI = map[string]SecurityPolicy{
	PolicyNone.URI:           PolicyNone,
	PolicyBasic128Rsa15.URI:  PolicyBasic128Rsa15,
	PolicyBasic256.URI:       PolicyBasic256,
	PolicyBasic256Sha256.URI: PolicyBasic256Sha256,
}

// PolicyByURI resolves a security policy by its URI.
func PolicyByURI(uri string) (SecurityPolicy, error) {
	p, ok := policiesByURI[uri]
	if !ok {
		return SecurityPolicy{}, fmt.Errorf("securechannel: unsupported security policy %q", uri)
	}
	return p, nil
}

// ValidateModeForPolicy rejects the one combination that is always
// invalid: policy None with a non-None mode, or a non-None policy
// asked to run with mode None is permitted (it simply sends
// unprotected — a client may choose that).
func ValidateModeForPolicy(policy SecurityPolicy, mode SecurityMode) error {
	if policy.URI == PolicyNone.URI && mode != ModeNone {
		return fmt.Errorf("securechannel: mode %s invalid with policy None", mode)
	}
	return nil
}
