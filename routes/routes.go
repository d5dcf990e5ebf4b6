package routes

import (
	"net/http"
	"time"

	"haggle/handlers"
	"haggle/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterNegotiationRoutes registers all endpoints for the negotiation engine.
func RegisterNegotiationRoutes(r *gin.Engine, h *handlers.NegotiationHandler) {
	api := r.Group("/api/negotiations")
	api.Use(middleware.ParticipantAuthMiddleware())
	{
		api.POST("/propose", h.Propose)
		api.GET("", h.List)
		api.GET("/:id", h.Get)
		api.GET("/:id/quote", h.Quote)
		api.GET("/:id/stream", h.Stream)
		api.POST("/:id/counter", h.Counter)
		api.POST("/:id/accept", h.Accept)
		api.POST("/:id/reject", h.Reject)
		api.POST("/:id/message", h.SendMessage)
		api.POST("/:id/pay", h.Pay)
	}
}

// RegisterRoutes wires CORS, health and the negotiation API.
func RegisterRoutes(r *gin.Engine, h *handlers.NegotiationHandler) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", handlers.Health)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	RegisterNegotiationRoutes(r, h)
}
