// ABOUTME: Session controller: turns user intent into transport writes and owns
// ABOUTME: the response-timeout watchdog; exposes read-only state to callers.

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepdesk/prepchat/internal/wire"
)

const (
	// DefaultGreeting seeds every new chat.
	DefaultGreeting = "Hi! I'm your interview prep assistant. Ask me anything — coding questions, system design, or how to tackle your next session."
	// DefaultResponseTimeout is how long a sent message may go unanswered
	// before the watchdog gives up on it.
	DefaultResponseTimeout = 60 * time.Second
	// DefaultHistoryWindow bounds the trailing context sent with the first
	// message of a not-yet-persisted conversation.
	DefaultHistoryWindow = 10

	timeoutMessage = "Error: the request timed out. Please try again."
)

// Sender is the outbound side of the transport. The session never touches the
// connection handle directly.
type Sender interface {
	Send(payload any) error
}

// HistoryLoader fetches the full message list of a persisted conversation.
type HistoryLoader interface {
	Messages(ctx context.Context, conversationID string) ([]StoredMessage, error)
}

// Options configure a Session. Zero values fall back to defaults.
type Options struct {
	ContextType     ContextType
	SessionID       string
	DayNumber       int
	Greeting        string
	ResponseTimeout time.Duration
	HistoryWindow   int
	Logger          *slog.Logger
	// Clock overrides time.Now in tests.
	Clock func() time.Time
	// NewTimer overrides time.AfterFunc in tests so the watchdog can be
	// fired deterministically.
	NewTimer func(d time.Duration, fn func()) *time.Timer
}

// Session orchestrates one open chat: it owns conversation state, forwards
// user turns to the transport, folds inbound frames via Apply, and arms a
// single watchdog timer per in-flight response.
//
// All state mutation is serialized through one mutex; transport read loop,
// timer firings and user calls never overlap.
type Session struct {
	sender Sender
	loader HistoryLoader
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	st          State
	watchdog    *time.Timer
	watchdogGen int

	onHistoryChanged func()
}

// NewSession creates a session seeded with the greeting message.
func NewSession(sender Sender, loader HistoryLoader, opts Options) *Session {
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.ContextType == "" {
		opts.ContextType = ContextGeneral
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewTimer == nil {
		opts.NewTimer = time.AfterFunc
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		sender: sender,
		loader: loader,
		opts:   opts,
		logger: logger.With("component", "session"),
	}
	s.st = s.seededState()
	return s
}

// SetOnHistoryChanged registers a callback fired (on its own goroutine) when
// the session adopts a server-assigned conversation id, i.e. when the history
// listing may have gained a conversation.
func (s *Session) SetOnHistoryChanged(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHistoryChanged = fn
}

// HandleFrame folds one inbound transport frame into session state. Register
// it with the transport: detach := tr.OnFrame(session.HandleFrame).
func (s *Session) HandleFrame(f *wire.Frame) {
	s.mu.Lock()
	out := Apply(&s.st, f, s.opts.Clock())
	if out.ClearWatchdog {
		s.stopWatchdogLocked()
	}
	var cb func()
	if out.AdoptedConversationID != "" {
		s.logger.Debug("adopted conversation", "conversation_id", out.AdoptedConversationID)
		cb = s.onHistoryChanged
	}
	s.mu.Unlock()

	if cb != nil {
		go cb()
	}
}

// SendMessage appends a user turn and sends it to the backend. It is a no-op
// for blank text or while a response is already in flight. A synchronous send
// failure is surfaced the same way a timeout is: typing cleared, watchdog
// disarmed, and a visible error message appended.
func (s *Session) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.st.IsTyping {
		s.mu.Unlock()
		return nil
	}

	now := s.opts.Clock()
	prior := s.st.Messages
	s.st.Messages = append(s.st.Messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: now,
	})
	s.st.IsTyping = true
	s.armWatchdogLocked()

	req := wire.SendRequest{
		Message:        text,
		ContextType:    string(s.opts.ContextType),
		SessionID:      s.opts.SessionID,
		DayNumber:      s.opts.DayNumber,
		ConversationID: s.st.ConversationID,
	}
	if s.st.ConversationID == "" {
		req.History = historyWindow(prior, s.opts.HistoryWindow)
	}
	s.mu.Unlock()

	if err := s.sender.Send(req); err != nil {
		s.mu.Lock()
		s.stopWatchdogLocked()
		s.st.IsTyping = false
		s.st.Messages = append(s.st.Messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   "Error: could not reach the chat service. Please try again.",
			Timestamp: s.opts.Clock(),
		})
		s.mu.Unlock()
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// LoadConversation replaces the session's messages with a persisted
// conversation's history. A fetch failure leaves the session untouched.
func (s *Session) LoadConversation(ctx context.Context, summary ConversationSummary) error {
	stored, err := s.loader.Messages(ctx, summary.ID)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", summary.ID, err)
	}

	msgs := make([]Message, 0, len(stored))
	for _, m := range stored {
		ts := summary.UpdatedAt
		if m.CreatedAt != nil {
			ts = *m.CreatedAt
		}
		msgs = append(msgs, Message{
			ID:        uuid.NewString(),
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: ts,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchdogLocked()
	s.st = State{
		ConversationID: summary.ID,
		Messages:       msgs,
	}
	return nil
}

// StartNewChat resets to the seeded greeting state and detaches from any
// in-progress stream.
func (s *Session) StartNewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchdogLocked()
	s.st = s.seededState()
}

// Close disarms the watchdog. The owning caller is responsible for detaching
// the frame handler and tearing down the transport.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchdogLocked()
}

// Messages returns a copy of the ordered message list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.st.Messages))
	copy(out, s.st.Messages)
	return out
}

// IsTyping reports whether a response is in flight.
func (s *Session) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IsTyping
}

// IsStreaming reports whether an assistant message is still accumulating
// deltas and has not been finalized.
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.StreamingID != ""
}

// ConversationID returns the adopted conversation id, or "" while the
// conversation has not been persisted server-side.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ConversationID
}

func (s *Session) seededState() State {
	return State{
		Messages: []Message{{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   s.opts.Greeting,
			Timestamp: s.opts.Clock(),
		}},
	}
}

// armWatchdogLocked arms the single response watchdog. Caller holds s.mu.
func (s *Session) armWatchdogLocked() {
	s.stopWatchdogLocked()
	gen := s.watchdogGen
	s.watchdog = s.opts.NewTimer(s.opts.ResponseTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A terminal frame may have disarmed the watchdog between the timer
		// firing and this callback acquiring the lock.
		if s.watchdogGen != gen || s.watchdog == nil {
			return
		}
		s.watchdog = nil
		s.st.IsTyping = false
		s.st.Messages = append(s.st.Messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   timeoutMessage,
			Timestamp: s.opts.Clock(),
		})
		s.logger.Warn("response watchdog fired")
	})
}

// stopWatchdogLocked disarms the watchdog and invalidates any already-fired
// callback still waiting on the lock. Caller holds s.mu.
func (s *Session) stopWatchdogLocked() {
	s.watchdogGen++
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

// historyWindow maps the last n prior messages into wire history entries.
func historyWindow(prior []Message, n int) []wire.HistoryEntry {
	if len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	out := make([]wire.HistoryEntry, 0, len(prior))
	for _, m := range prior {
		out = append(out, wire.HistoryEntry{Role: string(m.Role), Content: m.Content})
	}
	return out
}
