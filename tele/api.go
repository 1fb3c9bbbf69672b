// Package tele defines the Snapshot broadcast to dashboard clients
// and the handshake messages exchanged before broadcast starts.
package tele

import (
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
)

var (
	ErrUnexpectedMessage = fmt.Errorf("unexpected message")
	ErrNotAuthorized     = fmt.Errorf("not authorized")
)

// SnapshotFunc is called once per broadcast tick. Must not block for long.
type SnapshotFunc func() Snapshot

const (
	MessageAuthRequired = "auth_required"
	MessageAuthSuccess  = "auth_success"
)

// Server -> client, first message on new connection.
type AuthRequired struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	Challenge string `json:"challenge"`
}

// Client -> server reply to AuthRequired.
type AuthResponse struct {
	Token string `json:"token"`
}

// Server -> client, only after valid token.
type AuthSuccess struct {
	Type                 string `json:"type"`
	ServerVersion        string `json:"server_version"`
	CompressionSupported bool   `json:"compression_supported"`
}

// MessageType peeks "type" field without decoding the rest.
func MessageType(b []byte) (string, error) {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return "", errors.Annotate(err, "message type")
	}
	return m.Type, nil
}
