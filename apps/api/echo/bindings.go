package echoapi

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/checkin"
)

// Response is the envelope every endpoint speaks. Details carries rejection
// reason codes and field errors.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func okResponse(ctx echo.Context, message string, data interface{}) error {
	return ctx.JSON(http.StatusOK, Response{Success: true, Message: message, Data: data})
}

func createdResponse(ctx echo.Context, message string, data interface{}) error {
	return ctx.JSON(http.StatusCreated, Response{Success: true, Message: message, Data: data})
}

// reasonMessages translate rejection codes for venue staff; the code itself
// always rides along in details.reason.
var reasonMessages = map[checkin.Reason]string{
	checkin.ReasonInvalidToken:  "the scanned code is not a valid ticket token",
	checkin.ReasonUnknownTicket: "no such ticket exists",
	checkin.ReasonStaleToken:    "this code has been superseded by a reissued ticket",
	checkin.ReasonWrongVenue:    "this ticket is for a different venue",
	checkin.ReasonOutOfWindow:   "check-in is closed for this exam",
	checkin.ReasonAlreadyUsed:   "this ticket has already been used",
	checkin.ReasonTicketInvalid: "this ticket is no longer valid",
}

func rejectedResponse(ctx echo.Context, res checkin.Result) error {
	return ctx.JSON(http.StatusBadRequest, Response{
		Message: reasonMessages[res.Reason],
		Details: echo.Map{"reason": res.Reason, "ticket": res.Ticket},
	})
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	VerifyCheckInRequest struct {
		QRData  string `json:"qr_data" validate:"required"`
		VenueID string `json:"venue_id" validate:"required"`
	}

	ManualCheckInRequest struct {
		TicketID string `json:"ticket_id" validate:"required"`
		VenueID  string `json:"venue_id" validate:"required"`
	}

	CallbackRequest struct {
		ExternalRef string `json:"external_reference_id" validate:"required"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (vr *VerifyCheckInRequest) Validate(validate *validator.Validate) error {
	vr.VenueID = core.CleanString(vr.VenueID)
	return validate.Struct(vr)
}

func (mr *ManualCheckInRequest) Validate(validate *validator.Validate) error {
	mr.TicketID = core.CleanString(mr.TicketID)
	mr.VenueID = core.CleanString(mr.VenueID)
	return validate.Struct(mr)
}

func (cr *CallbackRequest) Validate(validate *validator.Validate) error {
	cr.ExternalRef = core.CleanString(cr.ExternalRef)
	return validate.Struct(cr)
}

var orderingParam = "ordering"

// bindOrderings parses the `ordering` query parameter into ORDER BY terms.
// Fields are comma-separated and a `-` prefix sorts descending, eg.
// ?ordering=state,-issued_at
func bindOrderings(ctx echo.Context) []core.DBOrdering {
	values, ok := ctx.QueryParams()[orderingParam]
	if !ok {
		return nil
	}

	var orderings []core.DBOrdering
	for _, val := range values {
		for _, field := range strings.Split(val, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			descending := strings.HasPrefix(field, "-")
			if descending {
				field = field[1:]
			}
			orderings = append(orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
	return orderings
}
