package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/fleet"
	"github.com/zulandar/dockyard/internal/models"
	"github.com/zulandar/dockyard/internal/queue"
)

// stateBody is the wire form of a robot snapshot, used both ways.
type stateBody struct {
	RobotID       string     `json:"robot_id"`
	FSMState      string     `json:"fsm_state"`
	TaskState     string     `json:"task_state"`
	GoalX         *float64   `json:"goal_x"`
	GoalY         *float64   `json:"goal_y"`
	GoalYaw       *float64   `json:"goal_yaw"`
	PoseX         *float64   `json:"pose_x"`
	PoseY         *float64   `json:"pose_y"`
	PoseYaw       *float64   `json:"pose_yaw"`
	BatteryPct    *float64   `json:"battery_pct"`
	DockState     string     `json:"dock_state"`
	DockingState  string     `json:"docking_state"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until"`
}

func (b stateBody) model() models.RobotState {
	return models.RobotState{
		RobotID:       b.RobotID,
		FSMState:      b.FSMState,
		TaskState:     b.TaskState,
		GoalX:         b.GoalX,
		GoalY:         b.GoalY,
		GoalYaw:       b.GoalYaw,
		PoseX:         b.PoseX,
		PoseY:         b.PoseY,
		PoseYaw:       b.PoseYaw,
		BatteryPct:    b.BatteryPct,
		DockState:     b.DockState,
		DockingState:  b.DockingState,
		CooldownUntil: b.CooldownUntil,
	}
}

func stateView(st *models.RobotState) stateBody {
	updated := st.UpdatedAt.UTC()
	return stateBody{
		RobotID:       st.RobotID,
		FSMState:      st.FSMState,
		TaskState:     st.TaskState,
		GoalX:         st.GoalX,
		GoalY:         st.GoalY,
		GoalYaw:       st.GoalYaw,
		PoseX:         st.PoseX,
		PoseY:         st.PoseY,
		PoseYaw:       st.PoseYaw,
		BatteryPct:    st.BatteryPct,
		DockState:     st.DockState,
		DockingState:  st.DockingState,
		UpdatedAt:     &updated,
		CooldownUntil: st.CooldownUntil,
	}
}

// commandView is the wire form of a queued command.
type commandView struct {
	ID          uint64         `json:"id"`
	RobotID     string         `json:"robot_id"`
	Command     string         `json:"command"`
	Payload     string         `json:"payload"`
	Args        map[string]any `json:"args"`
	Status      string         `json:"status"`
	Detail      string         `json:"detail"`
	Src         string         `json:"src"`
	IsAuto      bool           `json:"is_auto"`
	CreatedAt   time.Time      `json:"created_at"`
	AvailableAt *time.Time     `json:"available_at"`
	ClaimedAt   *time.Time     `json:"claimed_at"`
	DoneAt      *time.Time     `json:"done_at"`
}

func commandViewOf(c *models.Command) commandView {
	return commandView{
		ID:          c.ID,
		RobotID:     c.RobotID,
		Command:     c.Command,
		Payload:     c.Payload,
		Args:        c.Args,
		Status:      c.Status,
		Detail:      c.Detail,
		Src:         c.Origin,
		IsAuto:      c.IsAuto,
		CreatedAt:   c.CreatedAt.UTC(),
		AvailableAt: c.AvailableAt,
		ClaimedAt:   c.ClaimedAt,
		DoneAt:      c.DoneAt,
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireQuery(c *gin.Context, op, key string) (string, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		fail(c, fault.Validation(op, "%s is required", key), nil)
		return "", false
	}
	return v, true
}

func handleGetState(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		robotID, good := requireQuery(c, "api: get state", "robot_id")
		if !good {
			return
		}
		st, err := f.PullSnapshot(c.Request.Context(), robotID)
		if err != nil {
			fail(c, err, gin.H{"state": nil})
			return
		}
		ok(c, gin.H{"state": stateView(st)})
	}
}

func handlePushState(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body stateBody
		if !bind(c, "api: push state", &body) {
			return
		}
		st, err := f.PushSnapshot(c.Request.Context(), body.model())
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{"state": stateView(st)})
	}
}

func handleListStates(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		states, err := f.ListSnapshots(c.Request.Context())
		if err != nil {
			fail(c, err, nil)
			return
		}
		out := make([]stateBody, len(states))
		for i := range states {
			out[i] = stateView(&states[i])
		}
		ok(c, gin.H{"states": out})
	}
}

// queueRequest accepts is_auto as 0/1 as well as a JSON bool.
type queueRequest struct {
	RobotID     string         `json:"robot_id"`
	Command     string         `json:"command"`
	Payload     string         `json:"payload"`
	Args        map[string]any `json:"args"`
	Src         string         `json:"src"`
	Detail      string         `json:"detail"`
	IsAuto      *flexBool      `json:"is_auto"`
	AvailableAt *time.Time     `json:"available_at"`
}

// flexBool decodes true/false, 1/0 and "1"/"0".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		n, nerr := strconv.Atoi(s)
		if nerr != nil {
			return fault.Validation("api: decode", "is_auto %s is not a boolean", data)
		}
		v = n == 1
	}
	*b = flexBool(v)
	return nil
}

func handleQueueCommand(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queueRequest
		if !bind(c, "api: queue command", &req) {
			return
		}
		var isAuto *bool
		if req.IsAuto != nil {
			v := bool(*req.IsAuto)
			isAuto = &v
		}
		cmd, err := f.Submit(c.Request.Context(), fleet.SubmitRequest{
			RobotID:     req.RobotID,
			Command:     req.Command,
			Payload:     req.Payload,
			Args:        req.Args,
			Src:         req.Src,
			Detail:      req.Detail,
			IsAuto:      isAuto,
			AvailableAt: req.AvailableAt,
		})
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{"cmd_id": cmd.ID, "command": commandViewOf(cmd)})
	}
}

func handleNextCommand(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		robotID, good := requireQuery(c, "api: next command", "robot_id")
		if !good {
			return
		}
		cmd, err := f.Poll(c.Request.Context(), robotID)
		if err != nil {
			fail(c, err, gin.H{"cmd": nil})
			return
		}
		if cmd == nil {
			ok(c, gin.H{"cmd": nil})
			return
		}
		ok(c, gin.H{
			"cmd":     cmd.Command,
			"cmd_id":  cmd.ID,
			"args":    cmd.Args,
			"payload": cmd.Payload,
			"detail":  cmd.Detail,
			"src":     cmd.Origin,
			"is_auto": boolInt(cmd.IsAuto),
		})
	}
}

func handleAck(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req fleet.AckRequest
		if !bind(c, "api: ack", &req) {
			return
		}
		cmd, err := f.Report(c.Request.Context(), req)
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{"cmd_id": cmd.ID, "status": cmd.Status})
	}
}

func handleListCommands(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		robotID, good := requireQuery(c, "api: list commands", "robot_id")
		if !good {
			return
		}
		filter := queue.ListFilter{}
		if raw := c.Query("status"); raw != "" {
			filter.Statuses = strings.Split(raw, ",")
		}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				fail(c, fault.Validation("api: list commands", "limit %q is not an integer", raw), nil)
				return
			}
			filter.Limit = n
		}

		cmds, err := f.ListCommands(c.Request.Context(), robotID, filter)
		if err != nil {
			fail(c, err, nil)
			return
		}
		out := make([]commandView, len(cmds))
		for i := range cmds {
			out[i] = commandViewOf(&cmds[i])
		}
		ok(c, gin.H{"commands": out})
	}
}

type clearRequest struct {
	RobotID string `json:"robot_id"`
	Mode    string `json:"mode"`
}

func handleClearQueue(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clearRequest
		if !bind(c, "api: clear queue", &req) {
			return
		}
		n, err := f.ClearQueue(c.Request.Context(), req.RobotID, req.Mode)
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{"cleared": n})
	}
}
