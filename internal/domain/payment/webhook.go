package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/apperr"
)

// Gateway event types the webhook reacts to. Everything else is
// acknowledged and dropped.
const EventPaymentSucceeded = "payment_intent.succeeded"

// Event is the gateway's webhook payload.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// VerifySignature checks the hex HMAC-SHA256 signature of the raw webhook
// body in constant time.
func VerifySignature(secret []byte, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// HandleEvent settles the payment a gateway event refers to. The payment is
// located by intent id first, then by the appointment_id metadata. An event
// that maps to no payment is ignored: failing it would only make the
// gateway retry a delivery that can never succeed. Lookup failures other
// than not-found are returned so the gateway redelivers the event.
func (s *Service) HandleEvent(ctx context.Context, ev *Event) error {
	if ev.Type != EventPaymentSucceeded {
		return nil
	}

	p, err := s.repo.GetByIntent(ctx, ev.Data.ID)
	if err != nil && !apperr.IsNotFound(err) {
		return err
	}
	if p == nil {
		if apptID, ok := ev.Data.Metadata["appointment_id"]; ok {
			if id, parseErr := uuid.Parse(apptID); parseErr == nil {
				p, err = s.repo.GetByAppointment(ctx, id)
				if err != nil && !apperr.IsNotFound(err) {
					return err
				}
			}
		}
	}
	if p == nil {
		s.log.Warn().Str("intent_id", ev.Data.ID).Msg("webhook event matched no payment")
		return nil
	}

	_, err = s.settle(ctx, p, ev.Data.ID)
	return err
}
