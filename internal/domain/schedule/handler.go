package schedule

import (
	"errors"
	"net/http"

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
	// Schedules are readable by anyone authenticated; patients need the
	// calendar to pick a slot.
	api.GET("/doctors/:doctorId/schedule", h.GetSchedule)
	api.GET("/doctors/:doctorId/calendar", h.GetCalendar)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin))
	write.PUT("/doctors/:doctorId/schedule", h.UpsertSchedule)
	write.PUT("/doctors/:doctorId/schedule/unavailable-dates", h.SetUnavailableDates)
	write.DELETE("/doctors/:doctorId/schedule", h.DeleteSchedule)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/schedules", h.ListSchedules)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	sched, err := h.svc.GetByDoctor(c.Request().Context(), doctorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sched)
}

// GetCalendar returns the raw template-derived slots for a date, before any
// booking filter. The free-slot endpoint in the appointment routes applies
// the conflict filter.
func (h *Handler) GetCalendar(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	slots, err := h.svc.Slots(c.Request().Context(), doctorID, date)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		case errors.Is(err, ErrInvalidDate):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if slots == nil {
		slots = []Interval{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"date": date, "slots": slots})
}

func (h *Handler) UpsertSchedule(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	var sched DoctorSchedule
	if err := c.Bind(&sched); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched.DoctorID = doctorID
	if err := h.svc.Upsert(c.Request().Context(), &sched); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) SetUnavailableDates(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	var body struct {
		Dates []string `json:"dates"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetUnavailableDates(c.Request().Context(), doctorID, body.Dates); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		case errors.Is(err, ErrInvalidDate):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	if err := h.svc.Delete(c.Request().Context(), doctorID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
