package availability

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicportal/api/internal/platform/auth"
	"github.com/clinicportal/api/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patients read availability to browse bookable slots.
	api.GET("/doctors/:doctorId/availability", h.ListDays)
	api.GET("/doctors/:doctorId/availability/day", h.GetDay)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin))
	write.POST("/availability", h.CreateSlots)
	write.PATCH("/availability/:id", h.ReplaceSlots)
	write.DELETE("/availability/:id", h.DeleteDay)
	write.DELETE("/availability/slots/:slotId", h.DeleteSlot)
}

type slotInput struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func toSlots(in []slotInput) []Slot {
	out := make([]Slot, len(in))
	for i, s := range in {
		out[i] = Slot{Start: s.Start, End: s.End}
	}
	return out
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSlotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOverlappingSlot), errors.Is(err, ErrSlotBooked), errors.Is(err, ErrSlotAlreadyBooked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInterval):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreateSlots(c echo.Context) error {
	var body struct {
		DoctorID uuid.UUID   `json:"doctor_id"`
		Date     string      `json:"date"`
		Slots    []slotInput `json:"slots"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	day, err := h.svc.CreateSlots(c.Request().Context(), body.DoctorID, body.Date, toSlots(body.Slots))
	if err != nil {
		if errors.Is(err, ErrOverlappingSlot) || errors.Is(err, ErrInvalidInterval) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, day)
}

func (h *Handler) ReplaceSlots(c echo.Context) error {
	dayID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Slots []slotInput `json:"slots"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	day, err := h.svc.ReplaceSlots(c.Request().Context(), dayID, toSlots(body.Slots))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, day)
}

func (h *Handler) GetDay(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	day, err := h.svc.GetDay(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, day)
}

func (h *Handler) ListDays(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	pg := pagination.FromContext(c)
	days, total, err := h.svc.ListDays(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(days, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteDay(c echo.Context) error {
	dayID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteDay(c.Request().Context(), dayID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	slotID, err := uuid.Parse(c.Param("slotId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid slot id")
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), slotID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
