package schedule

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorGroup := api.Group("", auth.RequireRole("doctor"))
	doctorGroup.POST("/schedules", h.CreateSchedules)
	doctorGroup.GET("/schedules/mine", h.ListMine)
	doctorGroup.PUT("/schedules/:id", h.EditSchedule)
	doctorGroup.DELETE("/schedules/:id", h.DeleteSchedule)

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.GET("/schedules/pending", h.ListPending)
	adminGroup.POST("/schedules/:id/approve", h.ApproveSchedule)
	adminGroup.POST("/schedules/:id/reject", h.RejectSchedule)

	api.GET("/schedules/:id", h.GetSchedule, auth.RequireRole("patient", "doctor"))
}

type createSchedulesRequest struct {
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	MaxPatientsPerDay int    `json:"max_patients_per_day"`
	VideoCallLink     string `json:"video_call_link"`
}

func (h *Handler) CreateSchedules(c echo.Context) error {
	var req createSchedulesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end_date must be YYYY-MM-DD")
	}
	start, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start_time must be HH:MM")
	}
	end, err := ParseTimeOfDay(req.EndTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end_time must be HH:MM")
	}

	doctorID := auth.UserIDFromContext(c.Request().Context())
	created, err := h.svc.CreateRange(c.Request().Context(), doctorID,
		startDate, endDate, start, end, req.MaxPatientsPerDay, req.VideoCallLink)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	w, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListMine(c echo.Context) error {
	p := pagination.FromContext(c)
	doctorID := auth.UserIDFromContext(c.Request().Context())
	windows, total, err := h.svc.ListByDoctor(c.Request().Context(), doctorID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(windows, total, p.Limit, p.Offset))
}

func (h *Handler) ListPending(c echo.Context) error {
	p := pagination.FromContext(c)
	windows, total, err := h.svc.ListPending(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(windows, total, p.Limit, p.Offset))
}

type editScheduleRequest struct {
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	MaxPatientsPerDay int    `json:"max_patients_per_day"`
}

func (h *Handler) EditSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	var req editScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start_time must be HH:MM")
	}
	end, err := ParseTimeOfDay(req.EndTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end_time must be HH:MM")
	}

	doctorID := auth.UserIDFromContext(c.Request().Context())
	w, err := h.svc.Edit(c.Request().Context(), id, doctorID, start, end, req.MaxPatientsPerDay)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ApproveSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	w, err := h.svc.Approve(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) RejectSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	if err := h.svc.Reject(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	doctorID := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Delete(c.Request().Context(), id, doctorID); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
