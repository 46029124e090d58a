// ABOUTME: Frame model for the streaming chat protocol (JSON over WebSocket).
// ABOUTME: Defines inbound frame types and the outbound send payload.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FrameType discriminates inbound frames.
type FrameType string

const (
	// FrameStatus reports backend activity ("thinking" while generating).
	FrameStatus FrameType = "status"
	// FrameDelta carries an incremental chunk of a streamed assistant response.
	FrameDelta FrameType = "delta"
	// FrameMessage finalizes a turn, optionally carrying full content and the
	// server-assigned conversation id.
	FrameMessage FrameType = "message"
	// FrameError reports a backend-side failure for the current turn.
	FrameError FrameType = "error"
)

// StatusThinking is the status value meaning "response in progress".
const StatusThinking = "thinking"

// Frame errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
)

// Frame is one inbound unit on the streaming connection. Which payload fields
// are meaningful depends on Type: status frames carry Status, delta and error
// frames carry Content, message frames may carry Content, ConversationID and
// CreatedAt.
type Frame struct {
	Type           FrameType  `json:"type"`
	Status         string     `json:"status,omitempty"`
	Content        string     `json:"content,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// Decode parses a raw wire frame and validates its type discriminator.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameStatus, FrameDelta, FrameMessage, FrameError:
		return &f, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

// HistoryEntry is one prior turn included as context in a send payload for
// conversations that have not yet been persisted server-side.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SendRequest is the outbound payload for one user turn.
type SendRequest struct {
	Message        string         `json:"message"`
	ContextType    string         `json:"context_type"`
	SessionID      string         `json:"session_id,omitempty"`
	DayNumber      int            `json:"day_number,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	History        []HistoryEntry `json:"history,omitempty"`
}
