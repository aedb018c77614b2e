package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/payment"
	"github.com/icue/varsity/core/ticket"
)

type ticketApi struct {
	deps ServerDeps
}

func registerTicketAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := ticketApi{deps: deps}

	tg := g.Group("/tickets", jwt)
	tg.GET("/mine", api.mine, studentMiddleware())
	tg.POST("/purchase", api.purchase, studentMiddleware())
	tg.GET("", api.query, adminMiddleware())
	tg.GET("/:id", api.retrieve)
	tg.GET("/:id/qr", api.qr)
}

func (api *ticketApi) mine(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	tickets, err := api.deps.TicketSvc.Filter(ctx.Request().Context(), ticket.QueryFilter{StudentID: claims.Subject})
	if err != nil {
		return errors.Wrap(err, "querying tickets")
	}
	if tickets == nil {
		tickets = []ticket.Ticket{}
	}
	return okResponse(ctx, "tickets retrieved", tickets)
}

func (api *ticketApi) purchase(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data payment.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err := data.Validate(api.deps.Validate, api.deps.Translator); err != nil {
		return err
	}

	p, err := api.deps.PaymentSvc.Initiate(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return err
	}
	return createdResponse(ctx, "payment initiated; your ticket will be issued once payment completes", p)
}

func (api *ticketApi) query(ctx echo.Context) error {
	filter := new(ticket.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return okResponse(ctx, "tickets retrieved", []ticket.Ticket{})
	}
	filter.Orderings = bindOrderings(ctx)

	tickets, err := api.deps.TicketSvc.Filter(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying tickets")
	}
	unbounded := *filter
	unbounded.Pagination = core.Pagination{}
	total, err := api.deps.TicketSvc.Count(ctx.Request().Context(), unbounded)
	if err != nil {
		return errors.Wrap(err, "counting tickets")
	}
	if tickets == nil {
		tickets = []ticket.Ticket{}
	}
	return okResponse(ctx, "tickets retrieved", echo.Map{"tickets": tickets, "total": total})
}

func (api *ticketApi) retrieve(ctx echo.Context) error {
	tkt, err := api.getAuthorizedTicket(ctx, true /* staff may view */)
	if err != nil {
		return err
	}
	return okResponse(ctx, "ticket retrieved", tkt)
}

func (api *ticketApi) qr(ctx echo.Context) error {
	tkt, err := api.getAuthorizedTicket(ctx, false /* owner only */)
	if err != nil {
		return err
	}

	token, err := api.deps.TicketSvc.Token(tkt)
	if err != nil {
		return errors.Wrap(err, "encoding ticket token")
	}
	png, err := ticket.QRPNG(token, ticket.QRSize)
	if err != nil {
		return errors.Wrap(err, "rendering ticket QR")
	}
	return ctx.Blob(http.StatusOK, "image/png", png)
}

func (api *ticketApi) getAuthorizedTicket(ctx echo.Context, allowStaff bool) (ticket.Ticket, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return ticket.Ticket{}, errors.Wrap(err, "getting context claims")
	}

	tkt, err := api.deps.TicketSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == ticket.ErrNotFound {
			return ticket.Ticket{}, errHttpNotFound
		}
		return ticket.Ticket{}, errors.Wrap(err, "finding ticket by ID")
	}

	if tkt.StudentID == claims.Subject {
		return tkt, nil
	}
	if allowStaff && (claims.IsTeacher || claims.IsAdmin) {
		return tkt, nil
	}
	// do not reveal other students' tickets
	return ticket.Ticket{}, errHttpNotFound
}
