package api

import (
	"github.com/gin-gonic/gin"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/internal/logic"
	"github.com/pccr10001/gsmlink/internal/worker"
	"gorm.io/gorm"
)

// NewRouter wires every route under /api/v1.
func NewRouter(db *gorm.DB, wm *worker.Manager, bus *event.Bus, archiver *logic.Archiver) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	mh := NewModemHandler(db, wm, archiver)
	sh := NewSMSHandler(db)
	wh := NewWebhookHandler(db)
	uh := NewUserHandler(db)
	eh := NewEventHandler(bus)

	apiGroup := r.Group("/api/v1")
	{
		apiGroup.POST("/login", uh.Login)

		// Authenticated Routes
		authGroup := apiGroup.Group("/")
		authGroup.Use(AuthMiddleware(db))
		{
			authGroup.POST("/change_password", uh.ChangePassword)

			authGroup.GET("/modems", mh.ListModems)
			authGroup.GET("/modems/:id", mh.GetModem)
			authGroup.GET("/modems/:id/network", mh.Network)
			authGroup.GET("/modems/:id/memory", mh.GetMemory)
			authGroup.POST("/modems/:id/sms", mh.SendSMS)
			authGroup.POST("/modems/:id/sms/read", mh.ReadSMS)
			authGroup.GET("/sms", sh.ListSMS)
			authGroup.GET("/events", eh.Stream)

			// Admin Only
			adminGroup := authGroup.Group("/")
			adminGroup.Use(AdminOnly())
			{
				adminGroup.POST("/modems", mh.AddModem)
				adminGroup.PUT("/modems/:id", mh.UpdateModem)
				adminGroup.DELETE("/modems/:id", mh.DeleteModem)
				adminGroup.POST("/modems/:id/restart", mh.Restart)
				adminGroup.PUT("/modems/:id/memory", mh.SetMemory)
				adminGroup.POST("/modems/:id/at", mh.ExecuteAT)
				adminGroup.POST("/modems/:id/error", mh.ForceError)

				adminGroup.PUT("/sms/:id/read", sh.MarkRead)
				adminGroup.DELETE("/sms/:id", sh.DeleteSMS)

				adminGroup.GET("/webhooks", wh.ListWebhooks)
				adminGroup.POST("/webhooks", wh.CreateWebhook)
				adminGroup.PUT("/webhooks/:id", wh.UpdateWebhook)
				adminGroup.DELETE("/webhooks/:id", wh.DeleteWebhook)

				adminGroup.GET("/users", uh.ListUsers)
				adminGroup.POST("/users", uh.CreateUser)
				adminGroup.DELETE("/users/:id", uh.DeleteUser)
			}
		}
	}
	return r
}
