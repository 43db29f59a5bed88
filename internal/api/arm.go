package api

import (
	"github.com/gin-gonic/gin"
	"github.com/zulandar/dockyard/internal/arm"
)

func handleArmState(a *arm.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := a.Get(c.Request.Context(), c.Query("client_id"))
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{
			"client_id":  st.ClientID,
			"state":      st.State,
			"job":        st.Job,
			"detected":   st.Detected,
			"warn":       st.Warn,
			"updated_at": st.UpdatedAt.UTC(),
		})
	}
}

func handleArmDetected(a *arm.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req arm.DetectionRequest
		if !bind(c, "api: arm detected", &req) {
			return
		}
		st, err := a.SetDetected(c.Request.Context(), req)
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{"detected": st.Detected, "warn": st.Warn})
	}
}

func handleArmQueue(a *arm.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req arm.CommandRequest
		if !bind(c, "api: arm queue", &req) {
			return
		}
		cmd, err := a.Submit(c.Request.Context(), req)
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{"cmd_id": cmd.ID, "cmd": cmd.Command})
	}
}

func handleArmNext(a *arm.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		cmd, err := a.Poll(c.Request.Context(), c.Query("client_id"))
		if err != nil {
			fail(c, err, gin.H{"cmd": nil})
			return
		}
		if cmd == nil {
			ok(c, gin.H{"cmd": nil})
			return
		}
		ok(c, gin.H{"cmd": cmd.Command, "cmd_id": cmd.ID})
	}
}

func handleArmAck(a *arm.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req arm.AckRequest
		if !bind(c, "api: arm ack", &req) {
			return
		}
		cmd, err := a.Report(c.Request.Context(), req)
		if err != nil {
			fail(c, err, nil)
			return
		}
		ok(c, gin.H{"cmd_id": cmd.ID, "status": cmd.Status})
	}
}
