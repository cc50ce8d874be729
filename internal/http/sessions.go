package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tazhibayda/notes-service/internal/account"
	"github.com/tazhibayda/notes-service/internal/domain"
	"github.com/tazhibayda/notes-service/internal/metrics"
	"github.com/tazhibayda/notes-service/internal/queue"
	"github.com/tazhibayda/notes-service/internal/security"
)

const (
	stateCookie = "oauth_state"
	stateMaxAge = 10 * 60
)

type sessionResp struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession godoc
// @Summary Sign in with a Google ID token
// @Description The Google ID token goes in the Authorization header. The session credential comes back in the
// @Description Authorization response header and in the body.
// @Tags sessions
// @Produce json
// @Param Authorization header string true "Google ID token"
// @Success 200 {object} sessionResp
// @Failure 401 {object} map[string]string
// @Failure 429 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /sessions [post]
func (h *Handler) CreateSession(c *gin.Context) {
	raw := bearer(c.GetHeader("Authorization"))
	if raw == "" {
		h.unauthorizedAssertion(c, "missing_assertion", nil)
		return
	}
	info, err := h.Verifier.Verify(c.Request.Context(), raw, h.Audience)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAssertion) {
			h.unauthorizedAssertion(c, "invalid_assertion", err)
			return
		}
		h.sessionFault(c, "verifier", err)
		return
	}
	h.issueSession(c, info)
}

// GoogleLogin godoc
// @Summary Start the Google consent flow
// @Tags sessions
// @Success 302
// @Router /sessions/google [get]
func (h *Handler) GoogleLogin(c *gin.Context) {
	raw, err := security.NewID()
	if err != nil {
		h.sessionFault(c, "state", err)
		return
	}
	state := h.Google.MakeState(raw)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateMaxAge, "/sessions/google", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, h.Google.AuthURL(state))
}

// GoogleCallback godoc
// @Summary Finish the Google consent flow
// @Tags sessions
// @Produce json
// @Param state query string true "state from GoogleLogin"
// @Param code query string true "authorization code"
// @Success 200 {object} sessionResp
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /sessions/google/callback [get]
func (h *Handler) GoogleCallback(c *gin.Context) {
	state := c.Query("state")
	cookie, _ := c.Cookie(stateCookie)
	if state == "" || state != cookie || !h.Google.VerifyState(state) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/sessions/google", "", c.Request.TLS != nil, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	info, err := h.Google.ExchangeAndVerify(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAssertion) {
			h.unauthorizedAssertion(c, "invalid_assertion", err)
			return
		}
		h.sessionFault(c, "verifier", err)
		return
	}
	h.issueSession(c, info)
}

// issueSession links the verified identity to a user and answers with a
// signed credential for the user's current token.
func (h *Handler) issueSession(c *gin.Context, info *domain.IdInfo) {
	ctx := c.Request.Context()

	var link *account.Link
	var err error
	WithSpan(ctx, "account.find_or_create", func(ctx context.Context) {
		link, err = h.Accounts.FindOrCreateUser(ctx, info, h.Verifier.Provider())
	})
	if err != nil {
		var dangling *account.DanglingAuthProviderError
		if errors.As(err, &dangling) {
			h.sessionFault(c, "dangling_provider", err)
			return
		}
		h.sessionFault(c, "account", err)
		return
	}

	cred, err := security.SignSession(link.User, h.SessionSecret)
	if err != nil {
		h.sessionFault(c, "sign", err)
		return
	}

	outcome := metrics.OutcomeExisting
	switch {
	case link.Created:
		outcome = metrics.OutcomeCreated
	case link.Rotated:
		outcome = metrics.OutcomeRotated
	}
	metrics.SessionsIssued.WithLabelValues(outcome).Inc()

	uid := link.User.ID.Hex()
	now := h.Now().UTC()
	if link.Created {
		h.publish(c, queue.KeyUserCreated, queue.UserCreated{
			UserID: uid, Provider: link.Provider.Type, Subject: link.Provider.UserIdentifier, At: now,
		})
	}
	h.publish(c, queue.KeySessionIssued, queue.SessionIssued{UserID: uid, Rotated: link.Rotated, At: now})

	c.Header("Authorization", cred)
	c.JSON(http.StatusOK, sessionResp{ID: uid, Token: cred, ExpiresAt: link.User.AuthTokenExpiry})
}

func (h *Handler) unauthorizedAssertion(c *gin.Context, reason string, err error) {
	metrics.SessionFailures.WithLabelValues(reason).Inc()
	h.Logger.Debug("identity assertion rejected",
		zap.String("request_id", c.GetString(requestIDKey)), zap.String("reason", reason), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func (h *Handler) sessionFault(c *gin.Context, reason string, err error) {
	metrics.SessionFailures.WithLabelValues(reason).Inc()
	h.internal(c, err)
}

// bearer strips an optional "Bearer " prefix.
func bearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}
