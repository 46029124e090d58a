// ABOUTME: Non-interactive prepchat subcommands
// ABOUTME: history listing with offline cache, one-shot send, and token management

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/prepdesk/prepchat/internal/auth"
	"github.com/prepdesk/prepchat/internal/chat"
	"github.com/prepdesk/prepchat/internal/history"
	"github.com/prepdesk/prepchat/internal/store"
	"github.com/prepdesk/prepchat/internal/wire"
)

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	contextName := fs.String("context", "general", "Context type: general or session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging.Level)

	cache, err := tokenCache(cfg)
	if err != nil {
		return err
	}
	tokenFn := func() string {
		token, _ := cache.Load()
		return token
	}

	contextType := chat.ContextType(*contextName)
	client := history.NewClient(cfg.Gateway.URL, tokenFn)

	summaries, fetchErr := client.Conversations(ctx, contextType)
	if fetchErr == nil {
		if cfg.Cache.Path != "" {
			if c, err := store.Open(cfg.Cache.Path); err == nil {
				_ = c.Put(ctx, summaries)
				c.Close()
			}
		}
		printSummaries(summaries)
		return nil
	}

	// Offline fallback: show whatever the local cache has
	if cfg.Cache.Path != "" {
		if c, err := store.Open(cfg.Cache.Path); err == nil {
			defer c.Close()
			cached, err := c.List(ctx, contextType)
			if err == nil && len(cached) > 0 {
				color.New(color.FgYellow).Printf("[offline] %v\n", fetchErr)
				printSummaries(cached)
				return nil
			}
		}
	}
	return fetchErr
}

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	sessionID := fs.String("session", "", "Prep session ID for session-scoped chat")
	dayNumber := fs.Int("day", 0, "Day number within the prep plan")
	conversationID := fs.String("conversation", "", "Existing conversation to continue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: prepchat send [flags] <message>")
	}
	message := strings.Join(fs.Args(), " ")

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging.Level)

	cache, err := tokenCache(cfg)
	if err != nil {
		return err
	}
	tokenFn := func() string {
		token, _ := cache.Load()
		return token
	}

	contextType := chat.ContextGeneral
	if *sessionID != "" {
		contextType = chat.ContextSession
	}

	client := history.NewClient(cfg.Gateway.URL, tokenFn)
	result, err := client.Send(ctx, wire.SendRequest{
		Message:        message,
		ContextType:    string(contextType),
		SessionID:      *sessionID,
		DayNumber:      *dayNumber,
		ConversationID: *conversationID,
	})
	if err != nil {
		return err
	}

	fmt.Println(result.Reply)
	if *conversationID == "" && result.ConversationID != "" {
		color.New(color.FgHiBlack).Printf("(conversation %s)\n", result.ConversationID)
	}
	return nil
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	tokenFlag := fs.String("token", "", "Access token (prompted for when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	token := strings.TrimSpace(*tokenFlag)
	if token == "" {
		fmt.Print("Paste your access token: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return fmt.Errorf("no token provided")
	}

	info, err := auth.Inspect(token)
	if err != nil {
		return fmt.Errorf("that does not look like a valid token: %w", err)
	}
	if info.Expired() {
		color.New(color.FgYellow).Println("Warning: this token is already expired")
	}

	cache, err := tokenCache(cfg)
	if err != nil {
		return err
	}
	if err := cache.Save(token); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Logged in as %s", info.Subject)
	if !info.ExpiresAt.IsZero() {
		fmt.Printf(" (expires %s)", info.ExpiresAt.Local().Format("Jan 02, 2006"))
	}
	fmt.Println()
	if cfg.Auth.SSHKey != "" {
		color.New(color.FgHiBlack).Printf("Token encrypted with %s\n", cfg.Auth.SSHKey)
	}
	return nil
}

func runLogout() error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	cache, err := tokenCache(cfg)
	if err != nil {
		return err
	}
	if err := cache.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func runWhoami() error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	cache, err := tokenCache(cfg)
	if err != nil {
		return err
	}

	token, err := cache.Load()
	if err != nil {
		return err
	}

	info, err := auth.Inspect(token)
	if err != nil {
		return fmt.Errorf("saved token is not valid: %w", err)
	}

	fmt.Printf("Subject:  %s\n", info.Subject)
	if !info.IssuedAt.IsZero() {
		fmt.Printf("Issued:   %s\n", info.IssuedAt.Local().Format(time.RFC1123))
	}
	if !info.ExpiresAt.IsZero() {
		fmt.Printf("Expires:  %s\n", info.ExpiresAt.Local().Format(time.RFC1123))
	}
	if info.Expired() {
		color.New(color.FgRed).Println("Status:   expired")
	} else {
		color.New(color.FgGreen).Println("Status:   valid")
	}
	return nil
}
