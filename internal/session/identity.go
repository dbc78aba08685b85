package session

import (
	"crypto/subtle"
	"crypto/x509"
	"fmt"
)

// IdentityKind discriminates the four identity token types
// ActivateSession accepts.
type IdentityKind uint8

const (
	IdentityAnonymous IdentityKind = iota
	IdentityUserName
	IdentityX509
	IdentityIssuedToken
)

// Identity is the validated result of an ActivateSession identity
// token; Validator implementations produce one from the raw token
// fields the wire layer decodes.
type Identity struct {
	Kind        IdentityKind
	DisplayName string
}

// Validator authenticates one identity token kind. Implementations
// return ua.BadIdentityTokenRejected-worthy errors on failure; the
// caller (Manager.Activate) maps any error to that status.
type Validator interface {
	Validate(token any) (Identity, error)
}

// AnonymousValidator always succeeds — used when the endpoint's
// UserTokenPolicy allows anonymous access.
type AnonymousValidator struct{}

func (AnonymousValidator) Validate(any) (Identity, error) {
	return Identity{Kind: IdentityAnonymous, DisplayName: "Anonymous"}, nil
}

// UserNameToken is the decoded wire payload for a username/password
// identity token. Password arrives already decrypted by the caller
// using the channel's negotiated security policy.
type UserNameToken struct {
	UserName string
	Password []byte
}

// UserNameValidator checks credentials against a fixed in-memory
// table; real deployments would back this with an external identity
// store.
type UserNameValidator struct {
	Credentials map[string][]byte // username -> password
}

func (v UserNameValidator) Validate(token any) (Identity, error) {
	t, ok := token.(UserNameToken)
	if !ok {
		return Identity{}, fmt.Errorf("session: not a username token")
	}
	want, ok := v.Credentials[t.UserName]
	if !ok {
		return Identity{}, fmt.Errorf("session: unknown user %q", t.UserName)
	}
	if subtle.ConstantTimeCompare(want, t.Password) != 1 {
		return Identity{}, fmt.Errorf("session: bad credentials for user %q", t.UserName)
	}
	return Identity{Kind: IdentityUserName, DisplayName: t.UserName}, nil
}

// X509Token is the decoded wire payload for a certificate identity token.
type X509Token struct {
	Certificate []byte // DER
}

// X509Validator checks the client certificate parses and, if TrustStore
// is set, that it chains to a trusted root (wired to internal/pki).
type X509Validator struct {
	TrustStore interface {
		Verify(cert *x509.Certificate) error
	}
}

func (v X509Validator) Validate(token any) (Identity, error) {
	t, ok := token.(X509Token)
	if !ok {
		return Identity{}, fmt.Errorf("session: not an X509 token")
	}
	cert, err := x509.ParseCertificate(t.Certificate)
	if err != nil {
		return Identity{}, fmt.Errorf("session: parse certificate: %w", err)
	}
	if v.TrustStore != nil {
		if err := v.TrustStore.Verify(cert); err != nil {
			return Identity{}, fmt.Errorf("session: certificate not trusted: %w", err)
		}
	}
	return Identity{Kind: IdentityX509, DisplayName: cert.Subject.CommonName}, nil
}

// CompositeValidator dispatches ActivateSession identity tokens to the
// sub-validator registered for their concrete type, so a server can
// accept more than one identity token kind at once. A nil entry means
// that kind is not offered.
type CompositeValidator struct {
	Anonymous Validator
	UserName  Validator
	X509      Validator
	Issued    Validator
}

func (v CompositeValidator) Validate(token any) (Identity, error) {
	switch token.(type) {
	case nil:
		if v.Anonymous == nil {
			return Identity{}, fmt.Errorf("session: anonymous identity not accepted")
		}
		return v.Anonymous.Validate(token)
	case UserNameToken:
		if v.UserName == nil {
			return Identity{}, fmt.Errorf("session: username identity not accepted")
		}
		return v.UserName.Validate(token)
	case X509Token:
		if v.X509 == nil {
			return Identity{}, fmt.Errorf("session: X509 identity not accepted")
		}
		return v.X509.Validate(token)
	case IssuedToken:
		if v.Issued == nil {
			return Identity{}, fmt.Errorf("session: issued-token identity not accepted")
		}
		return v.Issued.Validate(token)
	default:
		return Identity{}, fmt.Errorf("session: unrecognized identity token type %T", token)
	}
}

// IssuedToken is the decoded wire payload for a server-issued (e.g.
// SAML/JWT bearer) identity token, validated opaquely by Check.
type IssuedToken struct {
	TokenData []byte
}

// IssuedTokenValidator delegates to an injected Check function so the
// server binary can wire whatever bearer-token scheme its deployment
// needs without this package depending on it.
type IssuedTokenValidator struct {
	Check func(tokenData []byte) (displayName string, err error)
}

func (v IssuedTokenValidator) Validate(token any) (Identity, error) {
	t, ok := token.(IssuedToken)
	if !ok {
		return Identity{}, fmt.Errorf("session: not an issued token")
	}
	if v.Check == nil {
		return Identity{}, fmt.Errorf("session: no issued-token validator configured")
	}
	name, err := v.Check(t.TokenData)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Kind: IdentityIssuedToken, DisplayName: name}, nil
}
