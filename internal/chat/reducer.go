// ABOUTME: Deterministic fold of inbound frames into conversation state.
// ABOUTME: Implements the accumulate-then-finalize pattern for streamed responses.

package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/prepdesk/prepchat/internal/wire"
)

// State is the conversation state of one open chat session. ConversationID is
// empty until the backend persists the conversation. At most one message is
// open for streaming at a time, identified by StreamingID.
type State struct {
	ConversationID string
	Messages       []Message
	IsTyping       bool
	StreamingID    string
}

// Outcome reports side effects the controller must act on after a fold step.
type Outcome struct {
	// ClearWatchdog is set for every terminal frame (delta, message, error):
	// the response arrived, so the timeout watchdog must be disarmed.
	ClearWatchdog bool
	// AdoptedConversationID is non-empty when the session adopted a
	// server-assigned conversation id, meaning the history listing may now
	// include this conversation.
	AdoptedConversationID string
}

// Apply folds one inbound frame into the state. It is the only place
// conversation state is mutated by backend output.
//
// The central invariant: a run of delta frames followed by at most one message
// frame yields exactly one assistant message whose content is the
// concatenation of the deltas (or the message frame's content when no deltas
// preceded it). A message frame that finalizes an open stream never appends;
// it only corrects the streamed message's timestamp.
func Apply(st *State, f *wire.Frame, now time.Time) Outcome {
	var out Outcome

	switch f.Type {
	case wire.FrameStatus:
		st.IsTyping = f.Status == wire.StatusThinking

	case wire.FrameDelta:
		out.ClearWatchdog = true
		st.IsTyping = false
		if last := st.lastMessage(); last != nil && last.Role == RoleAssistant &&
			st.StreamingID != "" && last.ID == st.StreamingID {
			last.Content += f.Content
			break
		}
		msg := Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   f.Content,
			Timestamp: now,
		}
		st.StreamingID = msg.ID
		st.Messages = append(st.Messages, msg)

	case wire.FrameMessage:
		out.ClearWatchdog = true
		st.IsTyping = false
		if f.ConversationID != "" && st.ConversationID == "" {
			st.ConversationID = f.ConversationID
			out.AdoptedConversationID = f.ConversationID
		}
		finalizedAt := now
		if f.CreatedAt != nil {
			finalizedAt = *f.CreatedAt
		}
		if st.StreamingID != "" {
			// The streamed message is the turn; never append a duplicate.
			if msg := st.messageByID(st.StreamingID); msg != nil {
				msg.Timestamp = finalizedAt
			}
			st.StreamingID = ""
			break
		}
		if f.Content != "" {
			st.Messages = append(st.Messages, Message{
				ID:        uuid.NewString(),
				Role:      RoleAssistant,
				Content:   f.Content,
				Timestamp: finalizedAt,
			})
		}

	case wire.FrameError:
		out.ClearWatchdog = true
		st.IsTyping = false
		text := f.Content
		if text == "" {
			text = "something went wrong"
		}
		// The open stream, if any, is abandoned rather than retried.
		st.Messages = append(st.Messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   "Error: " + text,
			Timestamp: now,
		})
	}

	return out
}

func (st *State) lastMessage() *Message {
	if len(st.Messages) == 0 {
		return nil
	}
	return &st.Messages[len(st.Messages)-1]
}

func (st *State) messageByID(id string) *Message {
	for i := range st.Messages {
		if st.Messages[i].ID == id {
			return &st.Messages[i]
		}
	}
	return nil
}
