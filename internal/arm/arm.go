// Package arm tracks docking arm stations: their current state, the vision
// pipeline's charge-port detection flag, and an arm command queue that
// reuses the robot command queue keyed by client id.
package arm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zulandar/dockyard/internal/db"
	"github.com/zulandar/dockyard/internal/eventlog"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/fleet"
	"github.com/zulandar/dockyard/internal/models"
	"github.com/zulandar/dockyard/internal/queue"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultClientID is used when a request names no arm.
const DefaultClientID = "arm1"

// Sources used when a request does not name one.
const (
	SourceVision = "LIVE"
	SourceArm    = "ARM"
)

// Audit event types.
const (
	EventDetected = "ARM_DETECTED"
	EventQueued   = "ARM_CMD_QUEUED"
	EventClaimed  = "ARM_CMD_CLAIMED"
	EventAcked    = "ARM_CMD_ACK"
	EventAckNoID  = "ARM_ACK_NO_ID"
)

const (
	defaultStation = "READY"
	defaultJob     = "NONE"
	noConfidence   = "--"
)

// Recorder receives audit events.
type Recorder interface {
	Record(ctx context.Context, src, level, event, detail string)
}

// Service manages arm stations.
type Service struct {
	db        *gorm.DB
	queue     *queue.Queue
	events    Recorder
	opTimeout time.Duration
	now       func() time.Time
}

// Options configures a Service.
type Options struct {
	Events    Recorder
	OpTimeout time.Duration
	Now       func() time.Time
}

// New returns an arm Service sharing q with the robot fleet.
func New(g *gorm.DB, q *queue.Queue, opts Options) *Service {
	s := &Service{db: g, queue: q, events: opts.Events, opTimeout: opts.OpTimeout, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func clientOrDefault(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return DefaultClientID
	}
	return id
}

// Get returns the station row, creating the default READY/NONE row the
// first time a station is asked about.
func (s *Service) Get(ctx context.Context, clientID string) (*models.ArmState, error) {
	clientID = clientOrDefault(clientID)
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	tx := s.db.WithContext(ctx)

	var st models.ArmState
	err := tx.Where("client_id = ?", clientID).Take(&st).Error
	if err == nil {
		return &st, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, db.Classify("arm: get", err)
	}

	st = models.ArmState{
		ClientID:  clientID,
		State:     defaultStation,
		Job:       defaultJob,
		Warn:      noConfidence,
		UpdatedAt: s.now().UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&st).Error; err != nil {
		return nil, db.Classify("arm: get", err)
	}
	if err := tx.Where("client_id = ?", clientID).Take(&st).Error; err != nil {
		return nil, db.Classify("arm: get", err)
	}
	return &st, nil
}

// FormatConfidence renders a detector confidence as "0.87", or "--" when
// absent or not a finite number.
func FormatConfidence(conf *float64) string {
	if conf == nil || math.IsNaN(*conf) || math.IsInf(*conf, 0) {
		return noConfidence
	}
	return fmt.Sprintf("%.2f", *conf)
}

// DetectionRequest is the vision pipeline's report.
type DetectionRequest struct {
	ClientID string   `json:"client_id"`
	Detected bool     `json:"detected"`
	Conf     *float64 `json:"conf"`
	Src      string   `json:"src"`
}

// SetDetected records whether the charge port is currently detected.
func (s *Service) SetDetected(ctx context.Context, req DetectionRequest) (*models.ArmState, error) {
	clientID := clientOrDefault(req.ClientID)
	confS := FormatConfidence(req.Conf)
	st := models.ArmState{
		ClientID:  clientID,
		State:     defaultStation,
		Job:       defaultJob,
		Detected:  req.Detected,
		Warn:      "conf=" + confS,
		UpdatedAt: s.now().UTC(),
	}

	wctx, cancel := s.ctx(ctx)
	defer cancel()
	err := s.db.WithContext(wctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"detected", "warn", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return nil, db.Classify("arm: set detected", err)
	}

	src := req.Src
	if src == "" {
		src = SourceVision
	}
	s.record(ctx, src, models.LevelInfo, EventDetected,
		fmt.Sprintf("client_id=%s detected=%t conf=%s", clientID, req.Detected, confS))
	return s.Get(ctx, clientID)
}

// CommandRequest queues an arm command.
type CommandRequest struct {
	ClientID string `json:"client_id"`
	Command  string `json:"command"`
	Src      string `json:"src"`
}

// Submit queues an arm command. Command names are upper-cased.
func (s *Service) Submit(ctx context.Context, req CommandRequest) (*models.Command, error) {
	clientID := clientOrDefault(req.ClientID)
	cmd, err := s.queue.Enqueue(ctx, queue.EnqueueOpts{
		RobotID: clientID,
		Command: strings.ToUpper(strings.TrimSpace(req.Command)),
		Origin:  req.Src,
	})
	if err != nil {
		return nil, err
	}
	src := req.Src
	if src == "" {
		src = cmd.Origin
	}
	s.record(ctx, src, models.LevelInfo, EventQueued,
		fmt.Sprintf("client_id=%s cmd_id=%d cmd=%s", clientID, cmd.ID, cmd.Command))
	return cmd, nil
}

// Poll claims the arm's next command; nil when none is available.
func (s *Service) Poll(ctx context.Context, clientID string) (*models.Command, error) {
	clientID = clientOrDefault(clientID)
	cmd, err := s.queue.ClaimNext(ctx, clientID)
	if err != nil || cmd == nil {
		return nil, err
	}
	s.record(ctx, eventlog.SourceServer, models.LevelInfo, EventClaimed,
		fmt.Sprintf("client_id=%s cmd_id=%d cmd=%s", clientID, cmd.ID, cmd.Command))
	return cmd, nil
}

// AckRequest is the arm executor's report.
type AckRequest struct {
	ClientID string  `json:"client_id"`
	CmdID    *uint64 `json:"cmd_id"`
	Status   string  `json:"status"`
	Detail   string  `json:"detail"`
	Src      string  `json:"src"`
}

// Report closes an arm command. A missing cmd_id is audited and rejected.
func (s *Service) Report(ctx context.Context, req AckRequest) (*models.Command, error) {
	clientID := clientOrDefault(req.ClientID)
	src := req.Src
	if src == "" {
		src = SourceArm
	}
	if req.CmdID == nil || *req.CmdID == 0 {
		s.record(ctx, src, models.LevelWarn, EventAckNoID,
			fmt.Sprintf("client_id=%s status=%s detail=%s", clientID, req.Status, req.Detail))
		return nil, fault.Validation("arm: ack", "cmd_id is required")
	}

	cmd, err := s.queue.Acknowledge(ctx, queue.AckOpts{
		ID:      *req.CmdID,
		RobotID: clientID,
		Status:  req.Status,
		Detail:  req.Detail,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, src, fleet.AckLevel(cmd.Status), EventAcked,
		fmt.Sprintf("id=%d client_id=%s status=%s detail=%s", cmd.ID, clientID, cmd.Status, cmd.Detail))
	return cmd, nil
}

func (s *Service) record(ctx context.Context, src, level, event, detail string) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, src, level, event, detail)
}
