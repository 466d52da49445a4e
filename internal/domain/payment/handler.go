package payment

import (
	"encoding/csv"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc           *Service
	webhookSecret []byte
}

func NewHandler(svc *Service, webhookSecret []byte) *Handler {
	return &Handler{svc: svc, webhookSecret: webhookSecret}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/payments/:id/confirm", h.Confirm, auth.RequireRole("patient"))
	api.GET("/payments/:id", h.Get, auth.RequireRole("patient", "doctor", "admin"))

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.GET("/payments", h.ListAll)
	adminGroup.GET("/payments/export", h.ExportCSV)
}

// RegisterWebhook mounts the gateway callback outside the authenticated API
// surface. Authentication is the body signature.
func (h *Handler) RegisterWebhook(e *echo.Echo) {
	e.POST("/webhooks/payment", h.Webhook)
}

type confirmRequest struct {
	IntentID string `json:"intent_id"`
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment id")
	}
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Confirm(c.Request().Context(), id, req.IntentID, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.Get(ctx, id, auth.UserIDFromContext(ctx), auth.RoleFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListAll(c echo.Context) error {
	p := pagination.FromContext(c)
	payments, total, err := h.svc.ListAll(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(payments, total, p.Limit, p.Offset))
}

// ExportCSV streams every payment as CSV for offline reconciliation.
func (h *Handler) ExportCSV(c echo.Context) error {
	const batch = 500

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="payments.csv"`)
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if err := w.Write([]string{"id", "appointment_id", "amount", "currency", "status", "intent_id", "paid_at", "created_at"}); err != nil {
		return err
	}

	for offset := 0; ; offset += batch {
		payments, _, err := h.svc.ListAll(c.Request().Context(), batch, offset)
		if err != nil {
			return err
		}
		if len(payments) == 0 {
			break
		}
		for _, p := range payments {
			intent := ""
			if p.IntentID != nil {
				intent = *p.IntentID
			}
			paidAt := ""
			if p.PaidAt != nil {
				paidAt = p.PaidAt.Format(time.RFC3339)
			}
			record := []string{
				p.ID.String(),
				p.AppointmentID.String(),
				strconv.FormatInt(p.Amount, 10),
				p.Currency,
				string(p.Status),
				intent,
				paidAt,
				p.CreatedAt.Format(time.RFC3339),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		if len(payments) < batch {
			break
		}
	}
	w.Flush()
	return w.Error()
}

// Webhook receives gateway events. Signature failures are rejected; events
// that map to no payment are acknowledged so the gateway stops retrying.
func (h *Handler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	signature := c.Request().Header.Get("X-Webhook-Signature")
	if !VerifySignature(h.webhookSecret, body, signature) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	ev, err := ParseEvent(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event")
	}
	if err := h.svc.HandleEvent(c.Request().Context(), ev); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"received": "ok"})
}
