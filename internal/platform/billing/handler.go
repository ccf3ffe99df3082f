package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes invoice lookups.
type Handler struct {
	issuer *Issuer
}

func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments/:id/invoice", h.GetInvoice)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	appointmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	inv, err := h.issuer.Lookup(c.Request().Context(), appointmentID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, inv)
}
