package http

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/tazhibayda/notes-service/internal/metrics"
)

const serviceName = "notes-service"

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID(), Trace(serviceName), Metrics(), h.ErrorReporter())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	sessions := r.Group("/sessions")
	if h.Limiter != nil {
		sessions.Use(RateLimit(h.Limiter, h.Logger))
	}
	sessions.POST("", h.CreateSession)
	if h.Google != nil {
		sessions.GET("/google", h.GoogleLogin)
		sessions.GET("/google/callback", h.GoogleCallback)
	}

	users := r.Group("/users", h.AuthGate())
	{
		users.GET("/me", h.Me)

		notes := users.Group("/:user_id/notes", RequireOwner())
		notes.GET("", h.ListNotes)
		notes.POST("", h.CreateNote)
		notes.GET("/:note_id", h.GetNote)
		notes.PUT("/:note_id", h.UpdateNote)
		notes.DELETE("/:note_id", h.DeleteNote)
	}
	return r
}
