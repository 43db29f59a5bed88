package api

import (
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/health", handleHealth())
	router.GET("/api/health", handleHealth())

	robot := router.Group("/api/robot")
	robot.GET("/state", handleGetState(opts.Fleet))
	robot.POST("/state", handlePushState(opts.Fleet))
	robot.GET("/states", handleListStates(opts.Fleet))
	robot.POST("/queue_command", handleQueueCommand(opts.Fleet))
	robot.GET("/next_command", handleNextCommand(opts.Fleet))
	robot.POST("/ack", handleAck(opts.Fleet))
	robot.GET("/commands", handleListCommands(opts.Fleet))
	robot.POST("/clear_queue", handleClearQueue(opts.Fleet))

	armGroup := router.Group("/api/arm")
	armGroup.GET("/state", handleArmState(opts.Arm))
	armGroup.POST("/set_detected", handleArmDetected(opts.Arm))
	armGroup.POST("/queue_command", handleArmQueue(opts.Arm))
	armGroup.GET("/next_command", handleArmNext(opts.Arm))
	armGroup.POST("/ack", handleArmAck(opts.Arm))

	router.GET("/events/recent", handleRecentEvents(opts.Fleet))

	if opts.Metrics != nil {
		router.GET("/metrics", opts.Metrics.Handler())
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, gin.H{"service": ServiceName})
	}
}
