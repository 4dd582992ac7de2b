package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// Flutterwave nests its transaction details under a "data" object and
// signs webhooks with an account-level secret hash.
type Flutterwave struct {
	secret       string
	callbackHost string
}

func NewFlutterwave(secret, callbackHost string) *Flutterwave {
	return &Flutterwave{secret: secret, callbackHost: callbackHost}
}

func (f *Flutterwave) Name() string { return "flutterwave" }

// Initiate opens a checkout session. The reference is generated locally
// and echoed back by the provider as tx_ref on webhook delivery.
func (f *Flutterwave) Initiate(ctx context.Context, bookingID int64, amount float64, currency string) (*InitiateResult, error) {
	ref := fmt.Sprintf("flw_%s", uuid.New().String())
	q := url.Values{}
	q.Set("amount", fmt.Sprintf("%.2f", amount))
	q.Set("currency", currency)
	q.Set("redirect_url", fmt.Sprintf("%s/payments/callback", f.callbackHost))
	return &InitiateResult{
		ProviderRef: ref,
		CheckoutURL: fmt.Sprintf("https://checkout.flutterwave.com/pay/%s?%s", ref, q.Encode()),
	}, nil
}

func (f *Flutterwave) VerifySignature(headers http.Header, body []byte) bool {
	return verifyHMAC(f.secret, headers, body, "x-flutterwave-signature", "x-signature")
}

func (f *Flutterwave) Normalize(body []byte) (*Event, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed flutterwave payload: %w", err)
	}

	data, _ := payload["data"].(map[string]any)
	eventID := firstString(payload, "id", "event_id")
	if eventID == "" && data != nil {
		eventID = firstString(data, "id")
	}
	if eventID == "" {
		return nil, fmt.Errorf("flutterwave event missing id")
	}

	ev := &Event{EventID: eventID}
	if data != nil {
		ev.RawStatus = firstString(data, "status")
		ev.ProviderRef = firstString(data, "tx_ref", "flw_ref")
		ev.Amount = floatField(data["amount"])
	}
	ev.Status = normalizeStatus(ev.RawStatus)
	return ev, nil
}
