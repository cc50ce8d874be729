package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/tazhibayda/notes-service/internal/account"
	"github.com/tazhibayda/notes-service/internal/domain"
	"github.com/tazhibayda/notes-service/internal/log"
	"github.com/tazhibayda/notes-service/internal/oauth"
	"github.com/tazhibayda/notes-service/internal/queue"
	"github.com/tazhibayda/notes-service/internal/repo"
)

type Accounts interface {
	FindOrCreateUser(ctx context.Context, info *domain.IdInfo, providerType string) (*account.Link, error)
}

type SessionFinder interface {
	FindUserBySession(ctx context.Context, id primitive.ObjectID, token string) (*domain.User, error)
}

type NoteStore interface {
	CreateNote(ctx context.Context, n *domain.Note) error
	ListNotesByUser(ctx context.Context, user primitive.ObjectID, p repo.ListParams) ([]domain.Note, error)
	FindNote(ctx context.Context, id, user primitive.ObjectID) (*domain.Note, error)
	UpdateNoteText(ctx context.Context, id, user primitive.ObjectID, text string) (*domain.Note, error)
	DeleteNote(ctx context.Context, id, user primitive.ObjectID) (bool, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// CodeFlow is the server-side consent flow; nil disables its routes.
type CodeFlow interface {
	MakeState(raw string) string
	VerifyState(state string) bool
	AuthURL(state string) string
	ExchangeAndVerify(ctx context.Context, code string) (*domain.IdInfo, error)
}

var _ CodeFlow = (*oauth.GoogleOAuth)(nil)

type Handler struct {
	Verifier      oauth.IdentityVerifier
	Accounts      Accounts
	Users         SessionFinder
	Notes         NoteStore
	SessionSecret string
	Audience      string

	Health   Pinger
	Google   CodeFlow
	Limiter  Limiter
	Events   queue.Publisher
	Exchange string
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewHandler(verifier oauth.IdentityVerifier, accounts Accounts, users SessionFinder, notes NoteStore, sessionSecret, audience string) *Handler {
	return &Handler{
		Verifier:      verifier,
		Accounts:      accounts,
		Users:         users,
		Notes:         notes,
		SessionSecret: sessionSecret,
		Audience:      audience,
		Events:        queue.NewNoop(),
		Exchange:      "notes.events",
		Logger:        log.L(),
		Now:           time.Now,
	}
}

// Healthz godoc
// @Summary Liveness and database reachability
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health.Ping(c.Request.Context()); err != nil {
			h.Logger.Warn("health check failed",
				zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// internal answers 500 with a generic body and hands err to ErrorReporter.
func (h *Handler) internal(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *Handler) publish(c *gin.Context, key string, event any) {
	ctx := context.WithoutCancel(c.Request.Context())
	reqID := c.GetString(requestIDKey)
	go func() {
		if err := h.Events.Publish(ctx, h.Exchange, key, event, reqID); err != nil {
			h.Logger.Warn("event publish failed", zap.String("key", key), zap.String("request_id", reqID), zap.Error(err))
		}
	}()
}
