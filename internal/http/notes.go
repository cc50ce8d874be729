package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tazhibayda/notes-service/internal/domain"
	"github.com/tazhibayda/notes-service/internal/repo"
)

type noteReq struct {
	Text *string `json:"text" binding:"required,max=5000"`
}

type listQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
	Skip  int `form:"skip"  binding:"omitempty,min=0"`
}

// Me godoc
// @Summary Current user
// @Tags users
// @Security SessionAuth
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /users/me [get]
func (h *Handler) Me(c *gin.Context) {
	u := authUser(c)
	c.JSON(http.StatusOK, gin.H{
		"id": u.ID.Hex(), "date_created": u.DateCreated, "auth_token_expiry": u.AuthTokenExpiry,
	})
}

// ListNotes godoc
// @Summary List the user's notes, newest first
// @Tags notes
// @Security SessionAuth
// @Produce json
// @Param user_id path string true "user id"
// @Param limit query int false "page size (max 200)"
// @Param skip query int false "offset"
// @Success 200 {array} domain.Note
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /users/{user_id}/notes [get]
func (h *Handler) ListNotes(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad query"})
		return
	}
	items, err := h.Notes.ListNotesByUser(c.Request.Context(), authUser(c).ID, repo.ListParams{Limit: q.Limit, Skip: q.Skip})
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// CreateNote godoc
// @Summary Create a note
// @Tags notes
// @Security SessionAuth
// @Accept json
// @Produce json
// @Param user_id path string true "user id"
// @Param payload body noteReq true "note text, at most 5000 characters"
// @Success 201 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /users/{user_id}/notes [post]
func (h *Handler) CreateNote(c *gin.Context) {
	var in noteReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}
	n := &domain.Note{User: authUser(c).ID, Text: *in.Text}
	if err := h.Notes.CreateNote(c.Request.Context(), n); err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": n.ID.Hex()})
}

// GetNote godoc
// @Summary Get one note
// @Tags notes
// @Security SessionAuth
// @Produce json
// @Param user_id path string true "user id"
// @Param note_id path string true "note id"
// @Success 200 {object} domain.Note
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{user_id}/notes/{note_id} [get]
func (h *Handler) GetNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	n, err := h.Notes.FindNote(c.Request.Context(), id, authUser(c).ID)
	if err != nil {
		h.internal(c, err)
		return
	}
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	c.JSON(http.StatusOK, n)
}

// UpdateNote godoc
// @Summary Replace a note's text
// @Tags notes
// @Security SessionAuth
// @Accept json
// @Produce json
// @Param user_id path string true "user id"
// @Param note_id path string true "note id"
// @Param payload body noteReq true "note text, at most 5000 characters"
// @Success 200 {object} domain.Note
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{user_id}/notes/{note_id} [put]
func (h *Handler) UpdateNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	var in noteReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}
	n, err := h.Notes.UpdateNoteText(c.Request.Context(), id, authUser(c).ID, *in.Text)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// DeleteNote godoc
// @Summary Delete a note
// @Tags notes
// @Security SessionAuth
// @Param user_id path string true "user id"
// @Param note_id path string true "note id"
// @Success 204
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{user_id}/notes/{note_id} [delete]
func (h *Handler) DeleteNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	deleted, err := h.Notes.DeleteNote(c.Request.Context(), id, authUser(c).ID)
	if err != nil {
		h.internal(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func noteID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("note_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid note id"})
		return primitive.NilObjectID, false
	}
	return id, true
}
