package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/persona-council/internal/http/response"
	"github.com/yungbote/persona-council/internal/personality"
	"github.com/yungbote/persona-council/internal/platform/apierr"
	"github.com/yungbote/persona-council/internal/platform/ctxutil"
)

var (
	errConcernTooLong   = errors.New("concern is too long")
	errNeedFiveTraits   = errors.New("traits must list openness, conscientiousness, extraversion, agreeableness, neuroticism")
	errAmountOutOfRange = errors.New("amount must be between 1 and 10")
)

type ProfileService interface {
	SaveProfile(ctx context.Context, userID string, p personality.Profile) (string, error)
	Profile(ctx context.Context, userID string) (personality.Profile, error)
}

type ProfileHandler struct {
	profiles ProfileService
}

func NewProfileHandler(svc ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: svc}
}

type profileView struct {
	Traits         [5]int `json:"traits"`
	Gender         string `json:"gender"`
	PersonalityKey string `json:"personality_key"`
}

type variantView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Side        string `json:"side"`
	Traits      [5]int `json:"traits"`
	Key         string `json:"key"`
}

func viewProfile(p personality.Profile) profileView {
	return profileView{Traits: p.Traits.Array(), Gender: string(p.Gender), PersonalityKey: p.Key()}
}

// PUT /v1/profile
// body: { "traits": [o, c, e, a, n], "gender": "female" | "male" | "other" }
func (h *ProfileHandler) Put(c *gin.Context) {
	var req struct {
		Traits []int  `json:"traits" binding:"required"`
		Gender string `json:"gender" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid_request", err))
		return
	}
	if len(req.Traits) != 5 {
		response.RespondAPIError(c, apierr.BadRequest("invalid_traits", errNeedFiveTraits))
		return
	}
	traits, err := personality.FromArray([5]int(req.Traits))
	if err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid_traits", err))
		return
	}
	gender, err := personality.ParseGender(req.Gender)
	if err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid_gender", err))
		return
	}
	p := personality.Profile{Traits: traits, Gender: gender}
	if _, err := h.profiles.SaveProfile(c.Request.Context(), ctxutil.UserID(c.Request.Context()), p); err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{"profile": viewProfile(p)})
}

// GET /v1/profile
func (h *ProfileHandler) Get(c *gin.Context) {
	p, err := h.profiles.Profile(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{"profile": viewProfile(p)})
}

// GET /v1/personality/variants?key=O4_C2_E5_A3_N2_female
// Without a key the caller's saved profile is used.
func (h *ProfileHandler) Variants(c *gin.Context) {
	var (
		p   personality.Profile
		err error
	)
	if key := strings.TrimSpace(c.Query("key")); key != "" {
		p, err = personality.DecodeProfile(key)
		if err != nil {
			response.RespondAPIError(c, apierr.BadRequest("malformed_key", err))
			return
		}
	} else {
		p, err = h.profiles.Profile(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
		if err != nil {
			response.RespondAPIError(c, toAPIError(err))
			return
		}
	}
	variants := personality.Derive(p)
	out := make([]variantView, 0, len(variants))
	for _, v := range variants {
		out = append(out, variantView{
			ID:          string(v.ID),
			DisplayName: v.DisplayName,
			Icon:        v.Icon,
			Side:        string(v.Side),
			Traits:      v.Traits.Array(),
			Key:         v.Key,
		})
	}
	response.RespondOK(c, gin.H{"personality_key": p.Key(), "variants": out})
}
