package appointment

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/civiltime"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patientGroup := api.Group("", auth.RequireRole("patient"))
	patientGroup.POST("/appointments", h.Book)
	patientGroup.GET("/appointments/mine", h.ListMine)
	patientGroup.GET("/doctors/:id/slots", h.AvailableSlots)

	doctorGroup := api.Group("", auth.RequireRole("doctor"))
	doctorGroup.GET("/appointments/doctor", h.ListForDoctor)
	doctorGroup.POST("/appointments/:id/approve", h.Approve)
	doctorGroup.POST("/appointments/:id/reject", h.Reject)

	api.GET("/appointments", h.ListAll, auth.RequireRole("admin"))
	api.GET("/appointments/:id", h.Get, auth.RequireRole("patient", "doctor"))
	api.GET("/appointments/:id/join", h.Join, auth.RequireRole("patient", "doctor"))
}

type bookRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	// ScheduledAt is a civil wall-clock time, "YYYY-MM-DD HH:MM".
	ScheduledAt string `json:"scheduled_at"`
	PatientNote string `json:"patient_note"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	requested, err := time.Parse(civiltime.KeyLayout, req.ScheduledAt)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "scheduled_at must be YYYY-MM-DD HH:MM")
	}

	patientID := auth.UserIDFromContext(c.Request().Context())
	appt, err := h.svc.Book(c.Request().Context(), patientID, req.DoctorID, requested, req.PatientNote)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
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
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	role := auth.RoleFromContext(c.Request().Context())
	if role != "admin" && userID != appt.PatientID && userID != appt.DoctorID {
		return echo.NewHTTPError(http.StatusForbidden, "You are not a participant of this appointment.")
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListMine(c echo.Context) error {
	p := pagination.FromContext(c)
	patientID := auth.UserIDFromContext(c.Request().Context())
	appts, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, p.Limit, p.Offset))
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	p := pagination.FromContext(c)
	doctorID := auth.UserIDFromContext(c.Request().Context())
	appts, total, err := h.svc.ListByDoctor(c.Request().Context(), doctorID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, p.Limit, p.Offset))
}

func (h *Handler) ListAll(c echo.Context) error {
	p := pagination.FromContext(c)
	appts, total, err := h.svc.ListAll(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, p.Limit, p.Offset))
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	slots, fee, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"slots":            slots,
		"consultation_fee": fee,
	})
}

type reviewRequest struct {
	DoctorNote string `json:"doctor_note"`
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID := auth.UserIDFromContext(c.Request().Context())
	appt, err := h.svc.Approve(c.Request().Context(), id, doctorID, req.DoctorNote)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID := auth.UserIDFromContext(c.Request().Context())
	appt, err := h.svc.Reject(c.Request().Context(), id, doctorID, req.DoctorNote)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Join(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	link, err := h.svc.JoinLink(c.Request().Context(), id, userID, time.Now().UTC())
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"video_call_link": link})
}
