package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/yungbote/persona-council/internal/council"
	"github.com/yungbote/persona-council/internal/ledger"
	"github.com/yungbote/persona-council/internal/personality"
	"github.com/yungbote/persona-council/internal/platform/apierr"
	"github.com/yungbote/persona-council/internal/routing"
	"github.com/yungbote/persona-council/internal/store"
)

// toAPIError maps service errors onto HTTP statuses. Unknown errors become 500.
func toAPIError(err error) *apierr.Error {
	var (
		ae        *apierr.Error
		malformed *personality.MalformedKeyError
		noModel   *routing.NoModelConfiguredError
	)
	switch {
	case errors.As(err, &ae):
		return ae
	case ledger.IsDailyLimitReached(err):
		return apierr.TooManyRequests("daily_limit_reached", err)
	case errors.Is(err, council.ErrProfileNotFound):
		return apierr.NotFound("profile_not_found", err)
	case errors.Is(err, council.ErrEmptyConcern):
		return apierr.BadRequest("empty_concern", err)
	case errors.Is(err, council.ErrInvalidCategory):
		return apierr.BadRequest("invalid_category", err)
	case council.IsTimeout(err):
		return apierr.New(http.StatusGatewayTimeout, "timeout", err)
	case errors.Is(err, context.Canceled):
		return apierr.New(499, "canceled", err)
	case errors.As(err, &malformed):
		return apierr.New(http.StatusInternalServerError, "malformed_profile", err)
	case errors.As(err, &noModel):
		return apierr.New(http.StatusServiceUnavailable, "no_model_configured", err)
	case errors.Is(err, store.ErrNotFound):
		return apierr.NotFound("not_found", err)
	default:
		return apierr.Internal(err)
	}
}
