// Package fleet is the ingestion, dispatch and acknowledgement contract that
// operators and robot agents speak. It composes the state store, the command
// queue and the event log, and records an audit event for every mutation.
package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/dockyard/internal/eventlog"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/metrics"
	"github.com/zulandar/dockyard/internal/models"
	"github.com/zulandar/dockyard/internal/queue"
	"github.com/zulandar/dockyard/internal/state"
)

// Audit event types.
const (
	EventEnqueued    = "CMD_ENQ"
	EventClaimed     = "CMD_CLAIMED"
	EventAcked       = "CMD_ACK"
	EventAckConflict = "CMD_ACK_CONFLICT"
	EventCleared     = "QUEUE_CLEARED"
)

// Recorder receives audit events.
type Recorder interface {
	Record(ctx context.Context, src, level, event, detail string)
}

// Service implements the fleet contract.
type Service struct {
	states  *state.Store
	queue   *queue.Queue
	events  Recorder
	recent  *eventlog.Log
	metrics *metrics.Metrics
}

// New returns a Service. log serves both as the recorder and as the source
// for RecentEvents.
func New(states *state.Store, q *queue.Queue, log *eventlog.Log, m *metrics.Metrics) *Service {
	s := &Service{states: states, queue: q, recent: log, metrics: m}
	if log != nil {
		s.events = log
	}
	return s
}

// Queue exposes the underlying queue for collaborators that share it.
func (s *Service) Queue() *queue.Queue { return s.queue }

// SubmitRequest is an operator or system request to queue a command.
type SubmitRequest struct {
	RobotID     string         `json:"robot_id"`
	Command     string         `json:"command"`
	Payload     string         `json:"payload"`
	Args        map[string]any `json:"args"`
	Src         string         `json:"src"`
	Detail      string         `json:"detail"`
	IsAuto      *bool          `json:"is_auto"`
	AvailableAt *time.Time     `json:"available_at"`
}

// Submit queues a command. Origin defaults to MANUAL.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Command, error) {
	cmd, err := s.queue.Enqueue(ctx, queue.EnqueueOpts{
		RobotID:     req.RobotID,
		Command:     req.Command,
		Payload:     req.Payload,
		Args:        req.Args,
		Detail:      req.Detail,
		Origin:      req.Src,
		IsAuto:      req.IsAuto,
		AvailableAt: req.AvailableAt,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, cmd.RobotID, models.LevelInfo, EventEnqueued,
		fmt.Sprintf("robot_id=%s cmd_id=%d command=%s src=%s is_auto=%t", cmd.RobotID, cmd.ID, cmd.Command, cmd.Origin, cmd.IsAuto))
	return cmd, nil
}

// Poll claims the robot's next command. A nil command means nothing is
// available right now, including when another poller won the race.
func (s *Service) Poll(ctx context.Context, robotID string) (*models.Command, error) {
	cmd, err := s.queue.ClaimNext(ctx, robotID)
	if err != nil || cmd == nil {
		return nil, err
	}
	s.record(ctx, eventlog.SourceServer, models.LevelInfo, EventClaimed,
		fmt.Sprintf("robot_id=%s cmd_id=%d command=%s", cmd.RobotID, cmd.ID, cmd.Command))
	return cmd, nil
}

// AckRequest is the executor's report on a command.
type AckRequest struct {
	RobotID string `json:"robot_id"`
	CmdID   uint64 `json:"cmd_id"`
	Status  string `json:"status"`
	Detail  string `json:"detail"`
}

// AckLevel maps a terminal status to the audit level: DONE is INFO, IGNORED
// and CANCELED are WARN, FAIL is ERROR.
func AckLevel(status string) string {
	switch status {
	case models.StatusDone:
		return models.LevelInfo
	case models.StatusIgnored, models.StatusCanceled:
		return models.LevelWarn
	default:
		return models.LevelError
	}
}

// Report closes a command. A mismatch between cmd_id and robot_id is a
// Conflict fault; it is audited and never changes any row.
func (s *Service) Report(ctx context.Context, req AckRequest) (*models.Command, error) {
	cmd, err := s.queue.Acknowledge(ctx, queue.AckOpts{
		ID:      req.CmdID,
		RobotID: req.RobotID,
		Status:  req.Status,
		Detail:  req.Detail,
	})
	if err != nil {
		if fault.Is(err, fault.KindConflict) {
			s.record(ctx, req.RobotID, models.LevelWarn, EventAckConflict,
				fmt.Sprintf("robot_id=%s cmd_id=%d status=%s", req.RobotID, req.CmdID, req.Status))
		}
		return nil, err
	}
	s.record(ctx, cmd.RobotID, AckLevel(cmd.Status), EventAcked,
		fmt.Sprintf("robot_id=%s cmd_id=%d command=%s status=%s detail=%s", cmd.RobotID, cmd.ID, cmd.Command, cmd.Status, cmd.Detail))
	return cmd, nil
}

// PushSnapshot replaces the robot's state snapshot.
func (s *Service) PushSnapshot(ctx context.Context, st models.RobotState) (*models.RobotState, error) {
	out, err := s.states.Upsert(ctx, st)
	if err != nil {
		return nil, err
	}
	s.metrics.StateReported()
	return out, nil
}

// PullSnapshot returns the robot's last snapshot or a NotFound fault.
func (s *Service) PullSnapshot(ctx context.Context, robotID string) (*models.RobotState, error) {
	return s.states.Get(ctx, robotID)
}

// ListSnapshots returns every robot's snapshot.
func (s *Service) ListSnapshots(ctx context.Context) ([]models.RobotState, error) {
	return s.states.List(ctx)
}

// ListCommands is a read-only diagnostic listing.
func (s *Service) ListCommands(ctx context.Context, robotID string, f queue.ListFilter) ([]models.Command, error) {
	return s.queue.List(ctx, robotID, f)
}

// ClearQueue cancels outstanding commands; see queue.Queue.Clear.
func (s *Service) ClearQueue(ctx context.Context, robotID, mode string) (int64, error) {
	n, err := s.queue.Clear(ctx, robotID, mode)
	if err != nil {
		return 0, err
	}
	if mode == "" {
		mode = queue.ClearPending
	}
	s.record(ctx, robotID, models.LevelWarn, EventCleared,
		fmt.Sprintf("robot_id=%s mode=%s canceled=%d", robotID, mode, n))
	return n, nil
}

// RecentEvents returns the newest audit events.
func (s *Service) RecentEvents(ctx context.Context, limit int, robotID string) ([]models.Event, error) {
	if s.recent == nil {
		return nil, nil
	}
	return s.recent.Recent(ctx, limit, robotID)
}

func (s *Service) record(ctx context.Context, src, level, event, detail string) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, src, level, event, detail)
}
