package routes

import (
	"time"

	"viewing-scheduler-server/services"
	"viewing-scheduler-server/utils"

	"github.com/kataras/iris/v12"
)

type CalendarRoutes struct {
	accounts *services.CalendarAccounts
	checker  *services.ConflictChecker
}

func NewCalendarRoutes(accounts *services.CalendarAccounts, checker *services.ConflictChecker) *CalendarRoutes {
	return &CalendarRoutes{accounts: accounts, checker: checker}
}

// GetGoogleAuthURL returns the consent URL the client should open to connect a Google calendar.
func (r *CalendarRoutes) GetGoogleAuthURL(ctx iris.Context) {
	url, err := r.accounts.AuthURL(utils.UserID(ctx))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"url": url})
}

// GoogleCallback is the OAuth redirect target. The user is identified by the signed state, not by a session.
func (r *CalendarRoutes) GoogleCallback(ctx iris.Context) {
	if reason := ctx.URLParam("error"); reason != "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "authorization_denied", reason)
		return
	}

	credential, err := r.accounts.Connect(ctx.Request().Context(), ctx.URLParam("state"), ctx.URLParam("code"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{
		"connected":    true,
		"accountEmail": credential.AccountEmail,
		"calendarId":   credential.Calendar(),
	})
}

func (r *CalendarRoutes) GetCalendarStatus(ctx iris.Context) {
	status, err := r.accounts.Status(ctx.Request().Context(), utils.UserID(ctx))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(status)
}

func (r *CalendarRoutes) DisconnectGoogle(ctx iris.Context) {
	if err := r.accounts.Disconnect(ctx.Request().Context(), utils.UserID(ctx)); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.StatusCode(iris.StatusNoContent)
}

// WatchGoogleCalendar subscribes to push notifications for the caller's calendar.
func (r *CalendarRoutes) WatchGoogleCalendar(ctx iris.Context) {
	channel, err := r.accounts.Watch(ctx.Request().Context(), utils.UserID(ctx))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(iris.Map{"channel": channel})
}

// GetBusyPeriods returns the caller's busy periods on a date.
func (r *CalendarRoutes) GetBusyPeriods(ctx iris.Context) {
	date := ctx.URLParamDefault("date", time.Now().Format("2006-01-02"))
	timezone := ctx.URLParamDefault("timezone", "UTC")

	busy, err := r.checker.BusyPeriods(ctx.Request().Context(), utils.UserID(ctx), date, timezone)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"date": date, "timezone": timezone, "busy": busy})
}
