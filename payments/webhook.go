/*
webhook.go - Provider webhook verification and event normalization

PURPOSE:
  The inbound half of reconciliation. Verifies the Stripe-Signature
  header (HMAC-SHA256 over "timestamp.payload", constant-time compare,
  bounded clock skew) and normalizes the raw event into the gateway's
  Event type. Unknown event types parse to an Event the gateway ignores.
*/
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/localspot/localspot/domain"
)

// signatureTolerance bounds how stale a signed timestamp may be.
const signatureTolerance = 5 * time.Minute

// VerifySignature checks a Stripe-Signature header against the payload.
// Returns ErrUnauthorized-wrapped errors on any mismatch; callers must
// reject the request without parsing the payload.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	issued := time.Unix(ts, 0)
	if now.Sub(issued) > signatureTolerance || issued.Sub(now) > signatureTolerance {
		return &domain.ValidationError{Field: "signature", Message: "timestamp outside tolerance"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return &domain.ValidationError{Field: "signature", Message: "no matching signature"}
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]".
func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		ts         int64 = -1
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, &domain.ValidationError{Field: "signature", Message: "bad timestamp"}
			}
			ts = parsed
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if ts < 0 || len(signatures) == 0 {
		return 0, nil, &domain.ValidationError{Field: "signature", Message: "malformed header"}
	}
	return ts, signatures, nil
}

// stripeEvent is the envelope shape shared by all Stripe events.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent normalizes a verified webhook payload. Event types the
// gateway does not react to come back with their raw type; Reconcile
// treats them as no-ops.
func ParseEvent(payload []byte) (Event, error) {
	var raw stripeEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, &domain.ValidationError{Field: "payload", Message: "not a provider event"}
	}
	if strings.TrimSpace(raw.ID) == "" {
		return Event{}, &domain.ValidationError{Field: "id", Message: "event id required"}
	}

	ev := Event{ID: raw.ID, Type: raw.Type}

	switch raw.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var invoice struct {
			Subscription string `json:"subscription"`
			PeriodStart  int64  `json:"period_start"`
			PeriodEnd    int64  `json:"period_end"`
		}
		if err := json.Unmarshal(raw.Data.Object, &invoice); err != nil {
			return Event{}, &domain.ValidationError{Field: "data", Message: "malformed invoice object"}
		}
		ev.SubscriptionID = invoice.Subscription
		ev.PeriodStart = unixPtr(invoice.PeriodStart)
		ev.PeriodEnd = unixPtr(invoice.PeriodEnd)

	case EventSubscriptionDeleted:
		var sub struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw.Data.Object, &sub); err != nil {
			return Event{}, &domain.ValidationError{Field: "data", Message: "malformed subscription object"}
		}
		ev.SubscriptionID = sub.ID
	}

	return ev, nil
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
