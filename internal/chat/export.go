// ABOUTME: HTML transcript export for a conversation
// ABOUTME: Bot messages render through goldmark, user messages are escaped

package chat

import (
	"fmt"
	"html"
	"io"

	"github.com/yuin/goldmark"
)

const transcriptHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>cocoGate transcript</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.msg { margin: 0.75rem 0; padding: 0.5rem 0.75rem; border-radius: 0.5rem; }
.user { background: #e8f0fe; }
.bot { background: #f3f4f6; }
.who { font-size: 0.75rem; color: #6b7280; margin-bottom: 0.25rem; }
</style>
</head>
<body>
`

// ExportHTML writes the conversation as a standalone HTML page. Bot replies
// arrive as markdown and are converted; user messages are plain text.
func (c *Conversation) ExportHTML(w io.Writer) error {
	if _, err := io.WriteString(w, transcriptHeader); err != nil {
		return fmt.Errorf("writing transcript header: %w", err)
	}

	for _, m := range c.Messages() {
		if _, err := fmt.Fprintf(w, "<div class=\"msg %s\">\n<div class=\"who\">%s</div>\n", m.Role, m.Role); err != nil {
			return fmt.Errorf("writing message: %w", err)
		}
		switch m.Role {
		case RoleBot:
			if err := goldmark.Convert([]byte(m.Content), w); err != nil {
				return fmt.Errorf("rendering bot message: %w", err)
			}
		default:
			if _, err := fmt.Fprintf(w, "<p>%s</p>\n", html.EscapeString(m.Content)); err != nil {
				return fmt.Errorf("writing message: %w", err)
			}
		}
		if _, err := io.WriteString(w, "</div>\n"); err != nil {
			return fmt.Errorf("writing message: %w", err)
		}
	}

	if _, err := io.WriteString(w, "</body>\n</html>\n"); err != nil {
		return fmt.Errorf("writing transcript footer: %w", err)
	}
	return nil
}
