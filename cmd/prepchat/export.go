// ABOUTME: Transcript export for the prepchat CLI
// ABOUTME: Renders a conversation's markdown content to a standalone HTML page

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/yuin/goldmark"

	"github.com/prepdesk/prepchat/internal/history"
)

const exportTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>prepchat transcript {{.ConversationID}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.turn { margin: 1.5rem 0; }
.role { font-weight: bold; font-size: 0.85rem; text-transform: uppercase; color: #666; }
.turn.user .role { color: #1a56db; }
.turn.assistant .role { color: #047857; }
.meta { color: #999; font-size: 0.8rem; }
</style>
</head>
<body>
<h1>Transcript</h1>
<p class="meta">Conversation {{.ConversationID}}, exported {{.ExportedAt}}</p>
{{range .Turns}}<div class="turn {{.Role}}">
<div class="role">{{.Role}}</div>
{{.Content}}
</div>
{{end}}</body>
</html>
`

type exportTurn struct {
	Role    string
	Content template.HTML
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("o", "", "Output file (defaults to <conversation-id>.html)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: prepchat export [-o file] <conversation-id>")
	}
	conversationID := fs.Arg(0)

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

	client := history.NewClient(cfg.Gateway.URL, tokenFn)
	stored, err := client.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return fmt.Errorf("conversation %s has no messages", conversationID)
	}

	turns := make([]exportTurn, 0, len(stored))
	for _, m := range stored {
		var htmlBuf bytes.Buffer
		if err := goldmark.Convert([]byte(m.Content), &htmlBuf); err != nil {
			return fmt.Errorf("rendering message: %w", err)
		}
		turns = append(turns, exportTurn{
			Role:    string(m.Role),
			Content: template.HTML(htmlBuf.String()),
		})
	}

	data := struct {
		ConversationID string
		ExportedAt     string
		Turns          []exportTurn
	}{
		ConversationID: conversationID,
		ExportedAt:     time.Now().Format("Jan 02, 2006 15:04"),
		Turns:          turns,
	}

	tmpl := template.Must(template.New("transcript").Parse(exportTemplate))
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return fmt.Errorf("rendering transcript: %w", err)
	}

	path := *output
	if path == "" {
		path = conversationID + ".html"
	}
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}

	fmt.Printf("Wrote %s (%d messages)\n", path, len(stored))
	return nil
}
