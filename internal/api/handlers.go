package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"roastchat/internal/models"
	"roastchat/internal/service/chat"
	"roastchat/internal/service/conversation"
	"roastchat/internal/service/roast"
)

// Sender runs one chat exchange.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) (*chat.Exchange, error)
}

// Handler wires HTTP routes to the conversation store, the chat service and
// the roast settings.
type Handler struct {
	store    *conversation.Store
	chat     Sender
	settings *roast.Settings
}

// NewHandler constructs a Handler instance.
func NewHandler(store *conversation.Store, sender Sender, settings *roast.Settings) *Handler {
	return &Handler{store: store, chat: sender, settings: settings}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/conversations", h.listConversations)
	api.POST("/conversations", h.createConversation)
	api.POST("/conversations/:id/select", h.selectConversation)
	api.PATCH("/conversations/:id", h.renameConversation)
	api.DELETE("/conversations/:id", h.deleteConversation)
	api.GET("/conversations/:id/messages", h.getMessages)
	api.POST("/chat", h.sendMessage)
	api.GET("/settings", h.getSettings)
	api.PUT("/settings", h.updateSettings)
	api.DELETE("/settings/credential", h.clearCredential)
}

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, conversation.ErrEmptyTitle),
		errors.Is(err, roast.ErrUnknownTone):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) currentID() string {
	if cur, ok := h.store.Current(); ok {
		return cur.ID
	}
	return ""
}

// Conversations
func (h *Handler) listConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"conversations": h.store.ListConversations(),
		"current_id":    h.currentID(),
	})
}

func (h *Handler) createConversation(c *gin.Context) {
	conv, err := h.store.CreateConversation(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (h *Handler) selectConversation(c *gin.Context) {
	if err := h.store.SelectConversation(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current_id": h.currentID()})
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *Handler) renameConversation(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conv, err := h.store.RenameConversation(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	if err := h.store.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": h.store.ListConversations(),
		"current_id":    h.currentID(),
	})
}

func (h *Handler) getMessages(c *gin.Context) {
	msgs, err := h.store.GetMessages(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Chat
type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ex, err := h.chat.Send(c.Request.Context(), req.ConversationID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

// Settings
type settingsView struct {
	HasCredential    bool           `json:"has_credential"`
	CredentialSource roast.Source   `json:"credential_source"`
	CredentialError  string         `json:"credential_error,omitempty"`
	Tone             roast.Tone     `json:"tone"`
	Presets          []roast.Preset `json:"presets"`
}

func (h *Handler) settingsView() settingsView {
	_, src, ok := h.settings.Credential()
	view := settingsView{
		HasCredential:    ok,
		CredentialSource: src,
		Tone:             h.settings.Tone(),
		Presets:          roast.Presets(),
	}
	if err := h.settings.CredentialError(); err != nil {
		view.CredentialError = err.Error()
	}
	return view
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settingsView())
}

// nil fields are left untouched.
type settingsRequest struct {
	APIKey *string `json:"api_key"`
	Tone   *string `json:"tone"`
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	if req.Tone != nil {
		if _, err := h.settings.SetTone(ctx, *req.Tone); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.APIKey != nil {
		if err := h.settings.SetCredential(ctx, *req.APIKey); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, h.settingsView())
}

func (h *Handler) clearCredential(c *gin.Context) {
	if err := h.settings.ClearCredential(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
