package routes

import (
	"errors"

	"viewing-scheduler-server/services"
	"viewing-scheduler-server/utils"

	"github.com/kataras/golog"
	"github.com/kataras/iris/v12"
)

// writeServiceError maps the service error types to HTTP responses.
func writeServiceError(ctx iris.Context, err error) {
	var (
		validationErr *services.ValidationError
		conflictErr   *services.ConflictError
		authzErr      *services.AuthorizationError
		notFoundErr   *services.NotFoundError
		expiredErr    *services.ExternalAuthExpiredError
		providerErr   *services.ExternalProviderError
		transitionErr *services.IllegalTransitionError
	)

	switch {
	case errors.As(err, &validationErr):
		utils.JSONErrorWithDetails(ctx, iris.StatusBadRequest, "validation_failed", validationErr.Message, iris.Map{
			"field": validationErr.Field,
		})
	case errors.As(err, &transitionErr):
		utils.JSONErrorWithDetails(ctx, iris.StatusConflict, "illegal_transition", transitionErr.Error(), iris.Map{
			"from":    transitionErr.From,
			"to":      transitionErr.To,
			"allowed": transitionErr.Allowed,
		})
	case errors.As(err, &conflictErr):
		details := iris.Map{}
		if conflictErr.Existing != nil {
			details["existingMeeting"] = conflictErr.Existing
		}
		if conflictErr.SuggestedSlots != nil {
			details["suggestedSlots"] = conflictErr.SuggestedSlots
		}
		utils.JSONErrorWithDetails(ctx, iris.StatusConflict, "conflict", conflictErr.Message, details)
	case errors.As(err, &authzErr):
		utils.JSONError(ctx, iris.StatusForbidden, "forbidden", authzErr.Message)
	case errors.As(err, &notFoundErr):
		utils.JSONError(ctx, iris.StatusNotFound, "not_found", notFoundErr.Error())
	case errors.As(err, &expiredErr):
		utils.JSONErrorWithDetails(ctx, iris.StatusUnauthorized, "calendar_reauthorization_required",
			"Your calendar connection expired. Please reconnect your calendar.", iris.Map{"reauthorize": true})
	case errors.As(err, &providerErr):
		golog.Warnf("⚠️ %s %s: %v", ctx.Method(), ctx.Path(), err)
		utils.JSONError(ctx, iris.StatusBadGateway, "calendar_unavailable", "The calendar provider is unavailable, please retry.")
	default:
		golog.Errorf("❌ %s %s: %v", ctx.Method(), ctx.Path(), err)
		utils.CreateInternalServerError(ctx)
	}
}
