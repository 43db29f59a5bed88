package telegraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/dockyard/internal/models"
)

// Color constants for event severity.
const (
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severity maps an event level to a chat severity.
func severity(level string) string {
	switch strings.ToUpper(level) {
	case models.LevelWarn:
		return "warning"
	case models.LevelError:
		return "error"
	default:
		return "info"
	}
}

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// levelRank orders event levels; unknown levels rank as INFO.
func levelRank(level string) int {
	switch strings.ToUpper(level) {
	case models.LevelWarn:
		return 1
	case models.LevelError:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether level is at or above min.
func AtLeast(level, min string) bool {
	return levelRank(level) >= levelRank(min)
}

// FormatEvent renders an audit event as a chat attachment.
func FormatEvent(ev models.Event) FormattedEvent {
	sev := severity(ev.Level)
	src := ev.Source
	if src == "" {
		src = "unknown"
	}
	body := ev.Detail
	if body == "" {
		body = "(no detail)"
	}
	return FormattedEvent{
		Title:    fmt.Sprintf("%s from %s", ev.Type, src),
		Body:     body,
		Severity: sev,
		Color:    severityColor(sev),
		Fields: []Field{
			{Name: "Level", Value: strings.ToUpper(ev.Level), Short: true},
			{Name: "Source", Value: src, Short: true},
			{Name: "Time", Value: ev.CreatedAt.UTC().Format(time.RFC3339), Short: true},
			{Name: "Event ID", Value: fmt.Sprintf("%d", ev.ID), Short: true},
		},
	}
}

// FormatText is the plain-text fallback for an event.
func FormatText(ev models.Event) string {
	return fmt.Sprintf("[%s] %s %s: %s", strings.ToUpper(ev.Level), ev.Source, ev.Type, ev.Detail)
}
