// ABOUTME: Entry point for the prepchat CLI client
// ABOUTME: Streams interview-prep chat over WebSocket with REST history and auth

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prepdesk/prepchat/internal/auth"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "send":
		err = runSend(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "login":
		err = runLogin(os.Args[2:])
	case "logout":
		err = runLogout()
	case "whoami":
		err = runWhoami()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: prepchat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat               Start an interactive chat")
	fmt.Println("  history            List past conversations")
	fmt.Println("  send               Send a single message and print the reply")
	fmt.Println("  export <id>        Export a conversation transcript to HTML")
	fmt.Println("  login              Save an access token")
	fmt.Println("  logout             Remove the saved token")
	fmt.Println("  whoami             Show the current token's subject and expiry")
	fmt.Println("  version            Print the version")
}

// getConfigPath returns the path to the client config file.
// Priority: PREPCHAT_CONFIG env var > XDG_CONFIG_HOME/prepchat/config.toml > ~/.config/prepchat/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("PREPCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "prepchat", "config.toml")
}

// getDataPath returns the prepchat data directory.
// Priority: XDG_DATA_HOME/prepchat > ~/.local/share/prepchat
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "prepchat")
}

// setupLogger configures the CLI logger. Logs go to stderr so they never
// interleave with chat output on stdout.
func setupLogger(levelName string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// tokenCache builds the token cache from config, wiring in SSH-key
// encryption when a key path is configured.
func tokenCache(cfg *Config) (*auth.TokenCache, error) {
	var cipher auth.Cipher
	if cfg.Auth.SSHKey != "" {
		c, err := auth.NewSSHKeyCipher(cfg.Auth.SSHKey, cfg.Auth.SSHKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("loading ssh key: %w", err)
		}
		cipher = c
	}
	return auth.NewTokenCache(cfg.Auth.TokenFile, cipher), nil
}
