// Package telegraph bridges Dockyard audit events to chat platforms (Slack,
// Discord). It is outbound only.
package telegraph

import "context"

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close releases the platform connection.
	Close() error
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel; adapters fall back to their default
	Text      string           // plain-text fallback
	Events    []FormattedEvent // structured event attachments
}

// FormattedEvent represents an audit event formatted for display in chat.
type FormattedEvent struct {
	Title    string  // event headline (e.g. "CMD_ACK from r1")
	Body     string  // detail text
	Severity string  // "info", "warning", "error"
	Color    string  // sidebar color hint (e.g. "#e53935")
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}
