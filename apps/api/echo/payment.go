package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type paymentApi struct {
	deps ServerDeps
}

func registerPaymentAPI(g *echo.Group, deps ServerDeps) {
	api := paymentApi{deps: deps}

	pg := g.Group("/payments")
	// gateway callback; authenticated by re-verifying the charge with the
	// provider, not by JWT
	pg.POST("/callback", api.callback)
}

func (api *paymentApi) callback(ctx echo.Context) error {
	var data CallbackRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CallbackRequest")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	p, tkt, err := api.deps.PaymentSvc.Confirm(ctx.Request().Context(), data.ExternalRef)
	if err != nil {
		return err
	}
	return okResponse(ctx, "payment confirmed; ticket issued", echo.Map{"payment": p, "ticket": tkt})
}
