package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Status is the canonical payment verdict after normalization.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// Event is a provider webhook payload reduced to the fields the
// reconciler acts on.
type Event struct {
	EventID     string
	Status      Status
	ProviderRef string
	Amount      float64
	RawStatus   string
}

// InitiateResult is what a provider hands back when a payment is opened.
type InitiateResult struct {
	ProviderRef string
	CheckoutURL string
}

// Adapter is implemented once per payment provider. VerifySignature
// must be computed over the exact raw body bytes. Normalize must return
// an error when no provider event id can be extracted, since events
// without an id cannot be deduplicated.
type Adapter interface {
	Name() string
	Initiate(ctx context.Context, bookingID int64, amount float64, currency string) (*InitiateResult, error)
	VerifySignature(headers http.Header, body []byte) bool
	Normalize(body []byte) (*Event, error)
}

// Registry is an immutable name-to-adapter lookup built once at
// startup. Adapters are selected per request; nothing is mutated after
// construction.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[strings.ToLower(a.Name())] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter registered under name (case-insensitive).
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(name)]
	return a, ok
}

// verifyHMAC checks an HMAC-SHA256 hex digest of body against the first
// non-empty candidate signature header.
func verifyHMAC(secret string, headers http.Header, body []byte, headerNames ...string) bool {
	if secret == "" {
		return false
	}
	var sig string
	for _, h := range headerNames {
		if v := headers.Get(h); v != "" {
			sig = v
			break
		}
	}
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(sig))
}

// normalizeStatus maps the status vocabulary seen across providers onto
// the canonical set. Anything unrecognized is Unknown, which the
// reconciler treats as fail-closed.
func normalizeStatus(raw string) Status {
	switch strings.ToLower(raw) {
	case "successful", "success", "paid", "completed":
		return StatusSuccess
	case "failed", "failed_attempt", "error", "declined", "cancelled":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// stringField renders a decoded JSON value (string or number) as a
// string; provider event ids arrive as either.
func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func floatField(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

// firstString returns the first non-empty candidate key in m.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m[k]); s != "" {
			return s
		}
	}
	return ""
}
