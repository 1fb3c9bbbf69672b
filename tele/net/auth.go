package telenet

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/carrotview/tele"
)

type AuthState uint32

const (
	StateUnauthenticated AuthState = iota
	StateChallengeSent
	StateAuthenticated
	StateRejected
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallengeSent:
		return "challenge-sent"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("AuthState(%d)", uint32(s))
}

const (
	DefaultTokenPrefix   = "carrotview2024"
	DefaultServerVersion = "1.0"

	challengePrefix = "carrotview_"
)

var challengeSeq uint32

// NewChallenge is time-derived. Sequence suffix keeps it unique across
// connections accepted within the same second.
func NewChallenge(now time.Time) string {
	seq := atomic.AddUint32(&challengeSeq, 1)
	return fmt.Sprintf("%s%d_%d", challengePrefix, now.Unix(), seq)
}

// DeterministicToken is the shared derivation both sides compute from challenge.
func DeterministicToken(prefix, challenge string) string {
	return prefix + "_" + challenge
}

// handshakePayload returns JSON bytes of handshake reply frame.
func handshakePayload(f Frame) ([]byte, error) {
	switch f.Flag {
	case FrameFlagRaw:
		return f.Payload, nil
	case frameFlagLegacyJSON:
		b := make([]byte, 0, 1+len(f.Payload))
		b = append(b, frameFlagLegacyJSON)
		return append(b, f.Payload...), nil
	}
	return nil, errors.Errorf("unsupported flag=%02x", f.Flag)
}

// parseToken extracts client token, empty string if missing.
func parseToken(f Frame) (string, error) {
	b, err := handshakePayload(f)
	if err != nil {
		return "", errors.Trace(err)
	}
	var resp tele.AuthResponse
	if err = json.Unmarshal(b, &resp); err != nil {
		return "", errors.Annotate(err, "token json")
	}
	return resp.Token, nil
}

func verifyToken(prefix, challenge, token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(DeterministicToken(prefix, challenge))) == 1
}
