package appointment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicportal/api/internal/domain/schedule"
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
	api.GET("/doctors/:doctorId/free-slots", h.FreeSlots)
	api.GET("/doctors/:doctorId/conflict-check", h.CheckConflict)
	api.GET("/appointments/:id", h.Get)
	api.POST("/appointments/:id/payment", h.ConfirmPayment)
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.POST("/appointments/:id/reschedule", h.Reschedule)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/appointments", h.Create)
	patient.GET("/appointments/mine", h.ListMine)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/appointments/:id/confirm", h.Confirm)
	doctor.POST("/appointments/:id/complete", h.Complete)
	doctor.GET("/doctors/:doctorId/appointments", h.ListForDoctor)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/appointments", h.List)
}

// httpError maps service sentinels onto HTTP statuses. Both conflict flavors
// surface as 409 so clients retry with a fresh calendar.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDoctorUnavailable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidInterval), errors.Is(err, schedule.ErrInvalidDate):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) FreeSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	slots, err := h.svc.FreeSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []schedule.Interval{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"date": date, "slots": slots})
}

func (h *Handler) CheckConflict(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start time")
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end time")
	}
	conflict, err := h.svc.CheckConflict(c.Request().Context(), doctorID, start, end)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   conflict,
		"conflict": conflict != ConflictNone,
	})
}

type createBody struct {
	DoctorID   string  `json:"doctor_id"`
	HospitalID string  `json:"hospital_id"`
	Start      string  `json:"start_time"`
	End        string  `json:"end_time"`
	Reason     *string `json:"reason,omitempty"`
	FromSlot   bool    `json:"from_slot"`
}

func (h *Handler) Create(c echo.Context) error {
	var body createBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := uuid.Parse(body.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	hospitalID, err := uuid.Parse(body.HospitalID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital id")
	}
	patientID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	start, err := time.Parse(time.RFC3339, body.Start)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start time")
	}
	end, err := time.Parse(time.RFC3339, body.End)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end time")
	}

	appt, err := h.svc.Create(c.Request().Context(), CreateRequest{
		DoctorID:   doctorID,
		PatientID:  patientID,
		HospitalID: hospitalID,
		Start:      start,
		End:        end,
		Reason:     body.Reason,
		FromSlot:   body.FromSlot,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	appt, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ConfirmPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var body struct {
		Amount        float64 `json:"amount"`
		TransactionID string  `json:"transaction_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}
	appt, err := h.svc.ConfirmPayment(c.Request().Context(), id, body.Amount, body.TransactionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Confirm(c.Request().Context(), id, body.Accept)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var body struct {
		Outcome      string  `json:"outcome"`
		Notes        *string `json:"notes,omitempty"`
		Prescription *string `json:"prescription,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	outcome := StatusCompleted
	if body.Outcome != "" {
		outcome = Status(body.Outcome)
	}
	appt, err := h.svc.Complete(c.Request().Context(), id, outcome, body.Notes, body.Prescription)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	actor := auth.RolePatient
	if auth.HasRole(auth.RolesFromContext(c.Request().Context()), auth.RoleDoctor) {
		actor = auth.RoleDoctor
	}
	appt, err := h.svc.Cancel(c.Request().Context(), id, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var body struct {
		Start string `json:"start_time"`
		End   string `json:"end_time"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, err := time.Parse(time.RFC3339, body.Start)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start time")
	}
	end, err := time.Parse(time.RFC3339, body.End)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end time")
	}
	appt, err := h.svc.Reschedule(c.Request().Context(), id, start, end)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListMine(c echo.Context) error {
	patientID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	pg := pagination.FromContext(c)
	statuses, from, to, err := listFilters(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListForPatient(c.Request().Context(), patientID, statuses, from, to, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	pg := pagination.FromContext(c)
	statuses, from, to, err := listFilters(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListForDoctor(c.Request().Context(), doctorID, statuses, from, to, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	statuses, from, to, err := listFilters(c)
	if err != nil {
		return err
	}
	var f Filter
	f.Statuses = statuses
	f.From = from
	f.To = to
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func listFilters(c echo.Context) ([]Status, *time.Time, *time.Time, error) {
	var statuses []Status
	if v := c.QueryParam("status"); v != "" {
		statuses = append(statuses, Status(v))
	}
	var from, to *time.Time
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid from time")
		}
		from = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid to time")
		}
		to = &t
	}
	return statuses, from, to, nil
}
