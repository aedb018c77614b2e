package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/icue/varsity/core/checkin"
	"github.com/icue/varsity/core/exam"
)

type checkInApi struct {
	deps ServerDeps
}

func registerCheckInAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := checkInApi{deps: deps}

	cg := g.Group("/check-ins", jwt, staffMiddleware())
	cg.POST("/verify", api.verify)
	cg.POST("/manual", api.manual)
	cg.GET("/logs", api.logs)
	cg.GET("/exams/:id", api.examReport)
	cg.GET("/venues/:id", api.venueLogs)
}

func (api *checkInApi) verify(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data VerifyCheckInRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyCheckInRequest")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	res, err := api.deps.CheckInSvc.CheckIn(
		ctx.Request().Context(), data.QRData, data.VenueID, claims.Subject, checkin.MethodScanned)
	if err != nil {
		return err
	}
	if !res.Accepted {
		return rejectedResponse(ctx, res)
	}
	return okResponse(ctx, "check-in accepted", res)
}

func (api *checkInApi) manual(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data ManualCheckInRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ManualCheckInRequest")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	res, err := api.deps.CheckInSvc.CheckInManual(
		ctx.Request().Context(), data.TicketID, data.VenueID, claims.Subject)
	if err != nil {
		return err
	}
	if !res.Accepted {
		return rejectedResponse(ctx, res)
	}
	return okResponse(ctx, "check-in accepted", res)
}

func (api *checkInApi) logs(ctx echo.Context) error {
	filter := new(checkin.EventFilter)
	if err := ctx.Bind(filter); err != nil {
		return okResponse(ctx, "check-in logs retrieved", echo.Map{"events": []checkin.Event{}, "total": 0})
	}

	events, total, err := api.deps.CheckInSvc.Logs(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying check-in logs")
	}
	if events == nil {
		events = []checkin.Event{}
	}
	return okResponse(ctx, "check-in logs retrieved", echo.Map{"events": events, "total": total})
}

func (api *checkInApi) examReport(ctx echo.Context) error {
	report, err := api.deps.CheckInSvc.ExamReport(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == exam.ErrExamNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "building exam report")
	}
	if report.CheckedIn == nil {
		report.CheckedIn = []checkin.Event{}
	}
	return okResponse(ctx, "exam report retrieved", report)
}

func (api *checkInApi) venueLogs(ctx echo.Context) error {
	events, err := api.deps.CheckInSvc.ListByVenue(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying venue check-ins")
	}
	if events == nil {
		events = []checkin.Event{}
	}
	return okResponse(ctx, "venue check-ins retrieved", events)
}
