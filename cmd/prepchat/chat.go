// ABOUTME: Interactive chat loop for the prepchat CLI
// ABOUTME: Streams assistant replies over WebSocket with slash commands for history

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/prepdesk/prepchat/internal/chat"
	"github.com/prepdesk/prepchat/internal/history"
	"github.com/prepdesk/prepchat/internal/store"
	"github.com/prepdesk/prepchat/internal/transport"
	"github.com/prepdesk/prepchat/internal/wire"
)

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	sessionID := fs.String("session", "", "Prep session ID for session-scoped chat")
	dayNumber := fs.Int("day", 0, "Day number within the prep plan")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging.Level)

	cache, err := tokenCache(cfg)
	if err != nil {
		return err
	}
	tokenFn := func() string {
		token, err := cache.Load()
		if err != nil {
			return ""
		}
		return token
	}

	contextType := chat.ContextGeneral
	if *sessionID != "" {
		contextType = chat.ContextSession
	}

	tr := transport.New(cfg.Gateway.URL, tokenFn, logger)
	defer tr.Disconnect()

	client := history.NewClient(cfg.Gateway.URL, tokenFn)

	sess := chat.NewSession(tr, client, chat.Options{
		ContextType: contextType,
		SessionID:   *sessionID,
		DayNumber:   *dayNumber,
		Logger:      logger,
	})
	defer sess.Close()

	r := &renderer{}
	detach := tr.OnFrame(func(f *wire.Frame) {
		sess.HandleFrame(f)
		r.frame(f)
	})
	defer detach()

	// Keep the local conversation listing fresh once the backend names
	// this conversation.
	var summaries *store.Cache
	if cfg.Cache.Path != "" {
		if c, err := store.Open(cfg.Cache.Path); err == nil {
			summaries = c
			defer summaries.Close()
		} else {
			logger.Warn("conversation cache unavailable", "error", err)
		}
	}
	sess.SetOnHistoryChanged(func() {
		refreshSummaries(ctx, client, summaries, contextType)
	})

	cyan := color.New(color.FgCyan)
	cyan.Printf("prepchat connected to %s\n", cfg.Gateway.URL)
	if tokenFn() == "" {
		fmt.Println("Auth: none (run 'prepchat login' or set PREPCHAT_TOKEN)")
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	r.printMessages(sess.Messages())

	if err := tr.Connect(ctx); err != nil {
		// Not fatal: sends queue and the transport redials lazily
		fmt.Printf("[offline] %v\n", err)
	}

	err = chatLoop(ctx, sess, client, r, contextType)
	fmt.Println("\nGoodbye!")
	return err
}

func chatLoop(ctx context.Context, sess *chat.Session, client *history.Client, r *renderer, contextType chat.ContextType) error {
	scanner := bufio.NewScanner(os.Stdin)
	var listed []chat.ConversationSummary

	for {
		fmt.Print("> ")

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if input == "/new" {
			sess.StartNewChat()
			fmt.Println("Started a new chat.")
			r.printMessages(sess.Messages())
			continue
		}

		if input == "/history" {
			summaries, err := client.Conversations(ctx, contextType)
			if err != nil {
				fmt.Printf("[error] %v\n", err)
				continue
			}
			listed = summaries
			printSummaries(summaries)
			fmt.Println()
			continue
		}

		if input == "/load" {
			fmt.Println("Usage: /load <number> (run /history first)")
			continue
		}

		if arg, ok := strings.CutPrefix(input, "/load "); ok {
			idx, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil || idx < 1 || idx > len(listed) {
				fmt.Println("Usage: /load <number> (run /history first)")
				continue
			}
			if err := sess.LoadConversation(ctx, listed[idx-1]); err != nil {
				fmt.Printf("[error] %v\n", err)
				continue
			}
			r.printMessages(sess.Messages())
			continue
		}

		if input == "/help" {
			printChatHelp()
			fmt.Println()
			continue
		}

		if err := sess.SendMessage(input); err != nil {
			r.printUnrendered(sess.Messages())
			continue
		}
		waitForReply(ctx, sess)
		r.printUnrendered(sess.Messages())
		fmt.Println()
	}
}

func printChatHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /history       List past conversations")
	fmt.Println("  /load <n>      Resume conversation n from the last /history listing")
	fmt.Println("  /new           Start a fresh chat")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}

// waitForReply blocks until the assistant finishes the turn: typing cleared
// and any open stream finalized. The session's own watchdog bounds the wait;
// the extra margin here only guards against a stream that stalls after its
// first delta, which disarms the watchdog.
func waitForReply(ctx context.Context, sess *chat.Session) {
	deadline := time.Now().Add(chat.DefaultResponseTimeout + 30*time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for sess.IsTyping() || sess.IsStreaming() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				return
			}
		}
	}
}

func printSummaries(summaries []chat.ConversationSummary) {
	if len(summaries) == 0 {
		fmt.Println("No past conversations")
		return
	}
	gray := color.New(color.FgHiBlack)
	for i, s := range summaries {
		title := "(untitled)"
		if s.Title != nil && *s.Title != "" {
			title = *s.Title
		}
		fmt.Printf("%3d. %s ", i+1, title)
		gray.Printf("%s\n", s.UpdatedAt.Local().Format("Jan 02 15:04"))
	}
}

func refreshSummaries(ctx context.Context, client *history.Client, cache *store.Cache, contextType chat.ContextType) {
	if cache == nil {
		return
	}
	summaries, err := client.Conversations(ctx, contextType)
	if err != nil {
		return
	}
	_ = cache.Put(ctx, summaries)
}

// renderer prints frames as they stream in. Messages the session appends
// without a frame, like timeout errors, are printed by printUnrendered after
// the turn settles.
type renderer struct {
	mu        sync.Mutex
	streaming bool
	rendered  int
}

func (r *renderer) frame(f *wire.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch f.Type {
	case wire.FrameDelta:
		if !r.streaming {
			color.New(color.FgGreen, color.Bold).Print("assistant: ")
			r.streaming = true
		}
		fmt.Print(f.Content)
	case wire.FrameMessage:
		if r.streaming {
			fmt.Println()
			r.streaming = false
			r.rendered++
		} else if f.Content != "" {
			color.New(color.FgGreen, color.Bold).Print("assistant: ")
			fmt.Println(f.Content)
			r.rendered++
		}
	case wire.FrameError:
		if r.streaming {
			fmt.Println()
			r.streaming = false
		}
		msg := f.Content
		if msg == "" {
			msg = "something went wrong"
		}
		color.New(color.FgRed).Printf("Error: %s\n", msg)
		r.rendered++
	}
}

// printMessages redraws a whole conversation, used after /load and /new.
func (r *renderer) printMessages(msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	green := color.New(color.FgGreen, color.Bold)
	blue := color.New(color.FgBlue, color.Bold)
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleUser:
			blue.Print("you: ")
		case chat.RoleAssistant:
			green.Print("assistant: ")
		}
		fmt.Println(m.Content)
	}
	fmt.Println()
	r.rendered = countAssistant(msgs)
	r.streaming = false
}

// printUnrendered prints assistant messages that arrived without frames,
// such as the watchdog's timeout error or a failed-send notice.
func (r *renderer) printUnrendered(msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := countAssistant(msgs)
	if r.streaming {
		// The open stream is mid-print; it is not pending.
		total--
	}
	if total <= r.rendered {
		r.rendered = total
		return
	}

	pending := total - r.rendered
	for _, m := range msgs[len(msgs)-pending:] {
		if m.Role != chat.RoleAssistant {
			continue
		}
		if strings.HasPrefix(m.Content, "Error:") {
			color.New(color.FgRed).Println(m.Content)
		} else {
			color.New(color.FgGreen, color.Bold).Print("assistant: ")
			fmt.Println(m.Content)
		}
	}
	r.rendered = total
}

func countAssistant(msgs []chat.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == chat.RoleAssistant {
			n++
		}
	}
	return n
}
