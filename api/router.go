package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter wires the HTTP routes onto a gin engine.
func NewRouter(s *Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(config))

	router.GET("/health", s.Health)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/downloads", s.SubmitDownload)

		apiGroup.GET("/tasks", s.ListTasks)
		apiGroup.GET("/tasks/:taskID", s.GetTask)
		apiGroup.DELETE("/tasks/:taskID", s.CancelTask)
		apiGroup.DELETE("/tasks", s.CancelAllTasks)

		apiGroup.GET("/queue", s.ListQueue)
		apiGroup.DELETE("/queue/:queueID", s.CancelQueued)

		apiGroup.GET("/settings", s.GetSettings)
		apiGroup.PUT("/settings", s.UpdateSettings)

		apiGroup.POST("/flow/code", s.DeliverCode)

		apiGroup.GET("/history", s.GetHistory)
	}

	return router
}
