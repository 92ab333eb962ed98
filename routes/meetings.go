package routes

import (
	"context"
	"strconv"

	"viewing-scheduler-server/models"
	"viewing-scheduler-server/services"
	"viewing-scheduler-server/utils"

	"github.com/kataras/iris/v12"
)

type MeetingRoutes struct {
	meetings *services.MeetingService
	checker  *services.ConflictChecker
}

func NewMeetingRoutes(meetings *services.MeetingService, checker *services.ConflictChecker) *MeetingRoutes {
	return &MeetingRoutes{meetings: meetings, checker: checker}
}

// CreateMeeting requests a viewing of a listing for the caller.
func (r *MeetingRoutes) CreateMeeting(ctx iris.Context) {
	var input services.CreateMeetingInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}
	if err := utils.Validate.Struct(input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	meeting, err := r.meetings.Create(ctx.Request().Context(), utils.UserID(ctx), input)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(iris.Map{"meeting": meeting})
}

// GetUserMeetings lists the caller's meetings as buyer or seller.
func (r *MeetingRoutes) GetUserMeetings(ctx iris.Context) {
	meetings, err := r.meetings.ListForUser(ctx.Request().Context(), utils.UserID(ctx))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"meetings": meetings})
}

func (r *MeetingRoutes) GetMeeting(ctx iris.Context) {
	meeting, err := r.meetings.Get(ctx.Request().Context(), utils.UserID(ctx), ctx.Params().Get("id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"meeting": meeting})
}

// GetAvailableSlots returns the free viewing slots of a listing on a date.
func (r *MeetingRoutes) GetAvailableSlots(ctx iris.Context) {
	listingID, err := strconv.ParseUint(ctx.URLParam("listingId"), 10, 32)
	if err != nil || listingID == 0 {
		utils.JSONErrorWithDetails(ctx, iris.StatusBadRequest, "validation_failed", "listingId is required", iris.Map{"field": "listingId"})
		return
	}
	date := ctx.URLParam("date")

	slots, err := r.checker.GetAvailableSlots(ctx.Request().Context(), uint(listingID), date)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"listingId": listingID, "date": date, "slots": slots})
}

func (r *MeetingRoutes) UpdateMeeting(ctx iris.Context) {
	var input services.UpdateMeetingInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}
	if err := utils.Validate.Struct(input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	meeting, err := r.meetings.Update(ctx.Request().Context(), utils.UserID(ctx), ctx.Params().Get("id"), input)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"meeting": meeting})
}

func (r *MeetingRoutes) ConfirmMeeting(ctx iris.Context) {
	r.transition(ctx, r.meetings.Confirm)
}

func (r *MeetingRoutes) RejectMeeting(ctx iris.Context) {
	r.transition(ctx, r.meetings.Reject)
}

func (r *MeetingRoutes) CancelMeeting(ctx iris.Context) {
	r.transition(ctx, r.meetings.Cancel)
}

func (r *MeetingRoutes) CompleteMeeting(ctx iris.Context) {
	r.transition(ctx, r.meetings.Complete)
}

func (r *MeetingRoutes) MarkNoShow(ctx iris.Context) {
	r.transition(ctx, r.meetings.MarkNoShow)
}

// ExpirePendingMeetings closes pending requests whose start time has passed. Admin only.
func (r *MeetingRoutes) ExpirePendingMeetings(ctx iris.Context) {
	expired, err := r.meetings.ExpirePending(ctx.Request().Context())
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"expired": expired})
}

type meetingAction func(ctx context.Context, userID uint, id string) (*models.Meeting, error)

func (r *MeetingRoutes) transition(ctx iris.Context, action meetingAction) {
	meeting, err := action(ctx.Request().Context(), utils.UserID(ctx), ctx.Params().Get("id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"meeting": meeting})
}
