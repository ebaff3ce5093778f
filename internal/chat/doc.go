// Package chat holds the conversation state machine: an append-only message
// sequence, a single-flight send gate, and the redirect policy for API key
// failures. It also renders transcripts to HTML with markdown support for
// bot messages.
package chat
