package securechannel

import (
	"crypto/x509"
	"log/slog"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/codec"
	"github.com/coriolis-automation/opcua-server/internal/metrics"
	"github.com/coriolis-automation/opcua-server/pkg/ua"
)

// SecurityTokenRequestType distinguishes Issue from Renew.
type SecurityTokenRequestType uint8

const (
	RequestTypeIssue SecurityTokenRequestType = iota
	RequestTypeRenew
)

// OpenSecureChannelRequest is the Service's request body — only the
// fields the Open/Renew rules below actually inspect.
type OpenSecureChannelRequest struct {
	Header               codec.RequestHeader
	ClientProtocolVersion uint32
	RequestType          SecurityTokenRequestType
	SecurityMode         SecurityMode
	ClientNonce          []byte
	RequestedLifetime    time.Duration
	SenderCertificate    []byte // DER, from the asymmetric security header
}

// OpenSecureChannelResponse is the Service's response body.
type OpenSecureChannelResponse struct {
	Header            codec.ResponseHeader
	ServerProtocolVersion uint32
	ChannelID         uint32
	TokenID           uint32
	CreatedAt         time.Time
	RevisedLifetime   time.Duration
	ServerNonce       []byte
}

// CloseSecureChannelRequest is the Service's request body.
type CloseSecureChannelRequest struct {
	Header codec.RequestHeader
}

// State tracks the per-channel OpenSecureChannel/Renew bookkeeping
// kept separately from the crypto material itself:
// {issued, renew_count, last_channel_id, last_token_id}.
type State struct {
	Issued        bool
	RenewCount    uint32
	lastChannelID uint32
	lastTokenID   uint32
}

func (s *State) nextChannelID() uint32 {
	s.lastChannelID++
	return s.lastChannelID
}

func (s *State) nextTokenID() uint32 {
	s.lastTokenID++
	return s.lastTokenID
}

// Service implements the SecureChannelService state machine,
// translated directly from the original Rust secure_channel_service.rs:
// an Issue on a channel that has already been renewed is logged, not
// rejected, while a Renew reusing the prior client nonce, an unissued
// Renew, and an invalid security mode are rejected per the rule
// ordering below.
type Service struct {
	State State

	// MaxLifetime caps the lifetime a client may request; 0 disables
	// the cap. Server-configurable.
	MaxLifetime time.Duration
}

// NewService returns a fresh, unissued SecureChannelService.
func NewService(maxLifetime time.Duration) *Service {
	return &Service{MaxLifetime: maxLifetime}
}

// handleErr is returned for Go-level protocol violations that must not
// be surfaced as a ServiceFault response (mis-dispatch, wrong header
// shape) — the driver tears the connection down on these.
type handleErr struct{ status ua.StatusCode }

func (e *handleErr) Error() string { return e.status.String() }

// Open processes an OpenSecureChannelRequest against ch, the channel's
// asymmetric security header (asserted by the caller to be present —
// rule 2), and the HELLO-negotiated client protocol version. It
// returns either an *OpenSecureChannelResponse to send, a
// *ua.StatusCode to send as a ServiceFault, or a hard error signalling
// a channel-level abort.
func (s *Service) Open(ch *Channel, req *OpenSecureChannelRequest, helloProtocolVersion uint32, now time.Time) (*OpenSecureChannelResponse, *ua.StatusCode, error) {
	// Rule 3: protocol version must match HELLO.
	if req.ClientProtocolVersion != helloProtocolVersion {
		slog.Warn("client protocol version mismatch", "hello", helloProtocolVersion, "open", req.ClientProtocolVersion)
		fault := ua.BadProtocolVersionUnsupported
		return nil, &fault, nil
	}

	switch req.RequestType {
	case RequestTypeIssue:
		// Warn-only: a future protocol tightening point may reject this instead.
		if s.State.RenewCount > 0 {
			slog.Warn("asked to issue token on channel that has renewed before")
		}
	case RequestTypeRenew:
		// Rule 5.
		if sameNonce(req.ClientNonce, ch.RemoteNonce) {
			metrics.ChannelRenewalsTotal.WithLabelValues("bad").Inc()
			fault := ua.BadNonceInvalid
			return nil, &fault, nil
		}
		if !s.State.Issued {
			metrics.ChannelRenewalsTotal.WithLabelValues("bad").Inc()
			return nil, nil, &handleErr{ua.BadUnexpectedError}
		}
		s.State.RenewCount++
	}

	// Rule 6: security mode must be one of the three valid values.
	if req.SecurityMode != ModeNone && req.SecurityMode != ModeSign && req.SecurityMode != ModeSignAndEncrypt {
		fault := ua.BadSecurityModeRejected
		return nil, &fault, nil
	}

	// Rule 9: nonce length must match the channel's policy.
	if ch.Policy.URI != PolicyNone.URI && len(req.ClientNonce) != ch.Policy.NonceLen {
		fault := ua.BadNonceInvalid
		return nil, &fault, nil
	}

	// Rule 7: transition to issued.
	s.State.Issued = true
	channelID := ch.ID
	if channelID == 0 {
		channelID = s.State.nextChannelID()
	}
	tokenID := s.State.nextTokenID()

	// Rule 8: parse sender certificate, if present.
	if len(req.SenderCertificate) > 0 {
		cert, err := x509.ParseCertificate(req.SenderCertificate)
		if err != nil {
			fault := ua.BadCertificateInvalid
			return nil, &fault, nil
		}
		ch.RemoteCert = cert
	}

	localNonce, err := GenerateNonce(ch.Policy.NonceLen)
	if err != nil {
		return nil, nil, err
	}

	lifetime := req.RequestedLifetime
	if s.MaxLifetime > 0 && lifetime > s.MaxLifetime {
		lifetime = s.MaxLifetime
	}

	if err := ch.Issue(ch.Policy, req.SecurityMode, tokenID, req.ClientNonce, localNonce, lifetime, now); err != nil {
		return nil, nil, err
	}
	ch.ID = channelID

	if req.RequestType == RequestTypeRenew {
		metrics.ChannelRenewalsTotal.WithLabelValues("good").Inc()
	} else {
		metrics.ChannelsOpen.Inc()
	}

	return &OpenSecureChannelResponse{
		ChannelID:       channelID,
		TokenID:         tokenID,
		CreatedAt:       now,
		RevisedLifetime: lifetime,
		ServerNonce:     localNonce,
	}, nil, nil
}

// Close handles CloseSecureChannelRequest — it always signals the
// driver to tear the connection down, never a normal response.
func (s *Service) Close(*CloseSecureChannelRequest) ua.StatusCode {
	if s.State.Issued {
		metrics.ChannelsOpen.Dec()
		s.State.Issued = false
	}
	return ua.BadConnectionClosed
}

func sameNonce(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
