package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/persona-council/internal/council"
	"github.com/yungbote/persona-council/internal/http/response"
	"github.com/yungbote/persona-council/internal/platform/apierr"
	"github.com/yungbote/persona-council/internal/platform/ctxutil"
	"github.com/yungbote/persona-council/internal/prompt"
)

const maxConcernRunes = 2000

type DialogueService interface {
	GenerateOrReuseDialogue(ctx context.Context, req council.Request) (*council.Response, error)
}

type DialogueHandler struct {
	council DialogueService
}

func NewDialogueHandler(svc DialogueService) *DialogueHandler {
	return &DialogueHandler{council: svc}
}

// POST /v1/dialogues
// body: { "concern": "...", "concern_category": "career" }
func (h *DialogueHandler) Create(c *gin.Context) {
	var req struct {
		Concern  string `json:"concern" binding:"required"`
		Category string `json:"concern_category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid_request", err))
		return
	}
	concern := strings.TrimSpace(req.Concern)
	if len([]rune(concern)) > maxConcernRunes {
		response.RespondAPIError(c, apierr.BadRequest("concern_too_long", errConcernTooLong))
		return
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category != "" && !prompt.ValidCategory(prompt.NormalizeCategory(category, concern)) {
		response.RespondAPIError(c, apierr.BadRequest("invalid_category", council.ErrInvalidCategory))
		return
	}
	resp, err := h.council.GenerateOrReuseDialogue(c.Request.Context(), council.Request{
		UserID:   ctxutil.UserID(c.Request.Context()),
		Concern:  concern,
		Category: category,
	})
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{"dialogue": resp})
}
