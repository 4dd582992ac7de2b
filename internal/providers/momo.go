package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// momoAdapter covers the mobile-money providers (MTN, Airtel), which
// push a flat payload: status and transaction reference at the top
// level or under an optional "data" wrapper.
type momoAdapter struct {
	name   string
	secret string
}

// NewMTN returns the MTN Mobile Money adapter.
func NewMTN(secret string) Adapter {
	return &momoAdapter{name: "mtn", secret: secret}
}

// NewAirtel returns the Airtel Money adapter.
func NewAirtel(secret string) Adapter {
	return &momoAdapter{name: "airtel", secret: secret}
}

func (m *momoAdapter) Name() string { return m.name }

// Initiate triggers a push to the customer's wallet; there is no
// checkout URL, only the reference the wallet callback will carry.
func (m *momoAdapter) Initiate(ctx context.Context, bookingID int64, amount float64, currency string) (*InitiateResult, error) {
	ref := fmt.Sprintf("%s_%s", m.name, uuid.New().String())
	return &InitiateResult{ProviderRef: ref}, nil
}

func (m *momoAdapter) VerifySignature(headers http.Header, body []byte) bool {
	return verifyHMAC(m.secret, headers, body, "x-signature")
}

func (m *momoAdapter) Normalize(body []byte) (*Event, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", m.name, err)
	}

	data, ok := payload["data"].(map[string]any)
	if !ok {
		data = payload
	}

	eventID := firstString(payload, "id", "event_id", "tx_id", "transaction_id")
	if eventID == "" {
		eventID = firstString(data, "id", "transaction_id")
	}
	if eventID == "" {
		return nil, fmt.Errorf("%s event missing id", m.name)
	}

	ev := &Event{
		EventID:     eventID,
		RawStatus:   firstString(data, "status", "transaction_status"),
		ProviderRef: firstString(data, "transaction_id", "tx_ref"),
		Amount:      floatField(data["amount"]),
	}
	ev.Status = normalizeStatus(ev.RawStatus)
	return ev, nil
}

var _ Adapter = (*Flutterwave)(nil)
