package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/ext"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/tazhibayda/notes-service/internal/account"
	"github.com/tazhibayda/notes-service/internal/domain"
	"github.com/tazhibayda/notes-service/internal/log"
	"github.com/tazhibayda/notes-service/internal/metrics"
	"github.com/tazhibayda/notes-service/internal/security"
)

const (
	requestIDKey = "X-Request-ID"
	authUserKey  = "auth_user"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDKey)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDKey, id)
		c.Next()
	}
}

// Trace opens a request span so store and handler spans nest under it.
func Trace(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sp, ctx := tracer.StartSpanFromContext(c.Request.Context(), "http.request",
			tracer.ServiceName(service),
			tracer.SpanType(ext.SpanTypeWeb),
			tracer.Tag(ext.HTTPMethod, c.Request.Method),
			tracer.Tag(ext.HTTPURL, c.Request.URL.Path),
		)
		defer sp.Finish()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		sp.SetTag(ext.ResourceName, c.Request.Method+" "+route(c))
		sp.SetTag(ext.HTTPCode, strconv.Itoa(c.Writer.Status()))
	}
}

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.InFlight.Inc()
		defer metrics.InFlight.Dec()

		c.Next()

		r := route(c)
		metrics.RequestsTotal.WithLabelValues(r, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.ReqDuration.WithLabelValues(r, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// ErrorReporter logs every error handlers attached with c.Error and marks the
// request span as failed.
func (h *Handler) ErrorReporter() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		ctx := c.Request.Context()
		l := log.WithDD(ctx, h.Logger,
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("route", route(c)),
			zap.Int("status", c.Writer.Status()),
		)
		if u, ok := c.Get(authUserKey); ok {
			l = l.With(zap.String("user_id", u.(*domain.User).ID.Hex()))
		}
		for _, ge := range c.Errors {
			fields := []zap.Field{zap.Error(ge.Err)}
			var dangling *account.DanglingAuthProviderError
			if errors.As(ge.Err, &dangling) {
				fields = append(fields, zap.String("auth_provider_id", dangling.AuthProviderID))
			}
			l.Error("request failed", fields...)
		}
		if sp, ok := tracer.SpanFromContext(ctx); ok {
			sp.SetTag(ext.Error, c.Errors.Last().Err)
		}
	}
}

// AuthGate admits requests carrying a valid session credential for an
// existing user whose token has not expired. Every rejection is the same 401.
func (h *Handler) AuthGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := h.authenticate(c.Request.Context(), bearer(c.GetHeader("Authorization")))
		if err != nil {
			reason := rejectionReason(err)
			if reason == "lookup_failed" {
				h.Logger.Error("session lookup failed",
					zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
			}
			metrics.GateRejections.WithLabelValues(reason).Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(authUserKey, u)
		c.Next()
	}
}

var errMissingCredential = errors.New("missing credential")

func (h *Handler) authenticate(ctx context.Context, cred string) (*domain.User, error) {
	if cred == "" {
		return nil, errMissingCredential
	}
	claims, err := security.VerifySession(cred, h.SessionSecret)
	if err != nil {
		return nil, err
	}
	id, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return nil, errors.Wrap(domain.ErrInvalidSignature, "subject is not an object id")
	}
	u, err := h.Users.FindUserBySession(ctx, id, claims.Token)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.WithStack(domain.ErrNotFound)
	}
	if u.TokenExpired(h.Now()) {
		return nil, errors.WithStack(domain.ErrExpiredCredential)
	}
	return u, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, errMissingCredential):
		return "missing_credential"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrNotFound):
		return "unknown_session"
	case errors.Is(err, domain.ErrExpiredCredential):
		return "expired"
	default:
		return "lookup_failed"
	}
}

// RequireOwner lets a request through only when :user_id is the caller.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := primitive.ObjectIDFromHex(c.Param("user_id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if id != authUser(c).ID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func authUser(c *gin.Context) *domain.User {
	return c.MustGet(authUserKey).(*domain.User)
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
