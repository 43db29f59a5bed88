package telegraph

import (
	"context"
	"fmt"

	"github.com/zulandar/dockyard/internal/models"
)

// Notifier posts events at or above a minimum level through an Adapter. It
// satisfies eventlog.Mirror.
type Notifier struct {
	platform string
	adapter  Adapter
	minLevel string
}

// NewNotifier wraps adapter. An empty minLevel means ERROR.
func NewNotifier(platform string, adapter Adapter, minLevel string) (*Notifier, error) {
	if adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if platform == "" {
		return nil, fmt.Errorf("telegraph: platform is required")
	}
	if minLevel == "" {
		minLevel = models.LevelError
	}
	return &Notifier{platform: platform, adapter: adapter, minLevel: minLevel}, nil
}

// Name identifies the mirror in logs and metrics.
func (n *Notifier) Name() string { return "telegraph:" + n.platform }

// Mirror posts ev when its level passes the filter.
func (n *Notifier) Mirror(ctx context.Context, ev models.Event) error {
	if !AtLeast(ev.Level, n.minLevel) {
		return nil
	}
	msg := OutboundMessage{
		Text:   FormatText(ev),
		Events: []FormattedEvent{FormatEvent(ev)},
	}
	if err := n.adapter.Send(ctx, msg); err != nil {
		return fmt.Errorf("telegraph: %s: %w", n.platform, err)
	}
	return nil
}

// Close closes the underlying adapter.
func (n *Notifier) Close() error {
	return n.adapter.Close()
}
