package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"type":"payment_intent.succeeded"}`)

	if !VerifySignature(secret, body, sign(secret, body)) {
		t.Error("valid signature rejected")
	}
	if VerifySignature(secret, body, sign([]byte("other"), body)) {
		t.Error("signature from wrong secret accepted")
	}
	if VerifySignature(secret, []byte(`{"tampered":true}`), sign(secret, body)) {
		t.Error("signature over different body accepted")
	}
	if VerifySignature(secret, body, "") {
		t.Error("empty signature accepted")
	}
}

func webhookRequest(h *Handler, body, signature string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Webhook(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newPaymentTest(t)
	h := NewHandler(f.svc, []byte("whsec_test"))

	body := `{"type":"payment_intent.succeeded","data":{"id":"pi_1"}}`
	rec := webhookRequest(h, body, "deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	rec = webhookRequest(h, body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", rec.Code)
	}
}

func TestWebhookSettlesPayment(t *testing.T) {
	f := newPaymentTest(t)
	secret := []byte("whsec_test")
	h := NewHandler(f.svc, secret)

	p := pendingPayment(t, f)
	body := `{"type":"payment_intent.succeeded","data":{"id":"pi_hook","metadata":{"appointment_id":"` + p.AppointmentID.String() + `"}}}`

	rec := webhookRequest(h, body, sign(secret, []byte(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got, _ := f.repo.GetByID(nil, p.ID)
	if got.Status != StatusPaid {
		t.Errorf("status = %s, want Paid", got.Status)
	}
}

func TestWebhookUnknownMappingReturns200(t *testing.T) {
	f := newPaymentTest(t)
	secret := []byte("whsec_test")
	h := NewHandler(f.svc, secret)

	body := `{"type":"payment_intent.succeeded","data":{"id":"pi_nobody"}}`
	rec := webhookRequest(h, body, sign(secret, []byte(body)))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	f := newPaymentTest(t)
	secret := []byte("whsec_test")
	h := NewHandler(f.svc, secret)

	body := `{not json`
	rec := webhookRequest(h, body, sign(secret, []byte(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
