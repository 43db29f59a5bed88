// Package eventlog is the append-only audit trail. Recording never fails the
// caller: write errors are logged and counted, then dropped.
package eventlog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/dockyard/internal/db"
	"github.com/zulandar/dockyard/internal/metrics"
	"github.com/zulandar/dockyard/internal/models"
	"gorm.io/gorm"
)

// SourceServer is the src used for events the service raises about itself.
const SourceServer = "SERVER"

const (
	// DefaultLimit applies when Recent is called with limit 0.
	DefaultLimit = 50
	// MaxLimit caps Recent.
	MaxLimit = 500

	defaultWriteTimeout  = 2 * time.Second
	defaultMirrorTimeout = 5 * time.Second
)

// Mirror receives a copy of every persisted event, e.g. an MQTT publisher or
// a chat alert bridge. Deliveries run off the caller's goroutine.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, ev models.Event) error
}

// Options configures a Log.
type Options struct {
	WriteTimeout  time.Duration // bounds each insert and each Recent query
	MirrorTimeout time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	Mirrors       []Mirror
	Now           func() time.Time
}

// Log writes and reads audit events.
type Log struct {
	db            *gorm.DB
	writeTimeout  time.Duration
	mirrorTimeout time.Duration
	log           zerolog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	mu      sync.RWMutex
	mirrors []Mirror
	closed  bool
	wg      sync.WaitGroup
}

// New returns a Log backed by g.
func New(g *gorm.DB, opts Options) *Log {
	l := &Log{
		db:            g,
		writeTimeout:  opts.WriteTimeout,
		mirrorTimeout: opts.MirrorTimeout,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		mirrors:       opts.Mirrors,
		now:           opts.Now,
	}
	if l.writeTimeout <= 0 {
		l.writeTimeout = defaultWriteTimeout
	}
	if l.mirrorTimeout <= 0 {
		l.mirrorTimeout = defaultMirrorTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// AddMirror attaches a mirror after construction.
func (l *Log) AddMirror(m Mirror) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirrors = append(l.mirrors, m)
}

// NormalizeLevel upper-cases level and maps anything unknown to INFO.
func NormalizeLevel(level string) string {
	switch lv := strings.ToUpper(strings.TrimSpace(level)); lv {
	case models.LevelInfo, models.LevelWarn, models.LevelError:
		return lv
	case "WARNING":
		return models.LevelWarn
	default:
		return models.LevelInfo
	}
}

// Record appends one event. It outlives a cancelled caller context so that
// the audit row for a completed operation is still written, but is bounded
// by the write timeout.
func (l *Log) Record(ctx context.Context, src, level, event, detail string) {
	ev := models.Event{
		CreatedAt: l.now().UTC(),
		Source:    src,
		Level:     NormalizeLevel(level),
		Type:      event,
		Detail:    detail,
	}

	le := l.log.Info()
	switch ev.Level {
	case models.LevelWarn:
		le = l.log.Warn()
	case models.LevelError:
		le = l.log.Error()
	}
	le.Str("src", ev.Source).Str("event", ev.Type).Str("detail", ev.Detail).Msg("event")

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()
	if err := l.db.WithContext(wctx).Create(&ev).Error; err != nil {
		l.metrics.EventDropped()
		l.log.Warn().Err(db.Classify("eventlog: record", err)).Str("event", ev.Type).Msg("event write failed")
	} else {
		l.metrics.EventRecorded(ev.Level)
	}

	l.fanOut(ev)
}

func (l *Log) fanOut(ev models.Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	for _, m := range l.mirrors {
		l.wg.Add(1)
		go func(m Mirror) {
			defer l.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), l.mirrorTimeout)
			defer cancel()
			if err := m.Mirror(ctx, ev); err != nil {
				l.metrics.MirrorError(m.Name())
				l.log.Warn().Err(err).Str("mirror", m.Name()).Str("event", ev.Type).Msg("event mirror failed")
			}
		}(m)
	}
}

// Close stops new mirror deliveries and waits for in-flight ones.
func (l *Log) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}

// Recent returns events newest first. limit is clamped to [1, MaxLimit] with
// 0 meaning DefaultLimit. A non-empty robotID selects events raised by that
// robot or whose detail names it as robot_id=<robotID>. The query is bounded
// by the write timeout.
func (l *Log) Recent(ctx context.Context, limit int, robotID string) ([]models.Event, error) {
	limit = ClampLimit(limit)

	ctx, cancel := l.ctx(ctx)
	defer cancel()
	q := l.db.WithContext(ctx).Model(&models.Event{})
	if robotID != "" {
		q = q.Where("src = ? OR detail LIKE ? ESCAPE '!'", robotID, "%robot_id="+escapeLike(robotID)+"%")
	}
	var out []models.Event
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, db.Classify("eventlog: recent", err)
	}
	return out, nil
}

func (l *Log) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.writeTimeout)
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike quotes LIKE wildcards in s using '!' as the escape character.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ClampLimit applies the Recent limit rules.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
