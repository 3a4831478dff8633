/*
stripe.go - Stripe implementation of the Provider contract

PURPOSE:
  A thin form-encoded HTTP client for the four Stripe calls the gateway
  needs. No SDK: the surface is four endpoints and the dependency is not
  worth carrying.

ERROR DISCIPLINE:
  Stripe error messages are forwarded (they are written for merchants),
  but the response is otherwise discarded: no secrets, no raw payloads
  ever leave this file inside an error.
*/
package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/localspot/localspot/domain"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClient implements Provider against the Stripe REST API.
type StripeClient struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewStripeClient builds a client with the given secret key. baseURL
// overrides the Stripe endpoint; empty means production.
func NewStripeClient(secretKey, baseURL string) *StripeClient {
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	return &StripeClient{
		secretKey: strings.TrimSpace(secretKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string) (PaymentIntent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(amountCents, 10))
	values.Set("currency", strings.ToLower(currency))

	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", values, "create payment intent", &out); err != nil {
		return PaymentIntent{}, err
	}
	return PaymentIntent{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string) (Customer, error) {
	values := url.Values{}
	values.Set("email", email)
	values.Set("name", name)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", values, "create customer", &out); err != nil {
		return Customer{}, err
	}
	return Customer{ID: out.ID}, nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, customerID, priceID string) (Subscription, error) {
	values := url.Values{}
	values.Set("customer", customerID)
	values.Set("items[0][price]", priceID)
	values.Set("payment_behavior", "default_incomplete")
	values.Set("expand[]", "latest_invoice.payment_intent")

	var out stripeSubscription
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", values, "create subscription", &out); err != nil {
		return Subscription{}, err
	}
	return out.toSubscription(), nil
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (Subscription, error) {
	var out stripeSubscription
	path := "/v1/subscriptions/" + url.PathEscape(id) + "?expand[]=latest_invoice.payment_intent"
	if err := c.do(ctx, http.MethodGet, path, nil, "retrieve subscription", &out); err != nil {
		return Subscription{}, err
	}
	return out.toSubscription(), nil
}

type stripeSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	LatestInvoice      struct {
		PaymentIntent struct {
			ClientSecret string `json:"client_secret"`
		} `json:"payment_intent"`
	} `json:"latest_invoice"`
}

func (s stripeSubscription) toSubscription() Subscription {
	sub := Subscription{
		ID:           s.ID,
		Status:       s.Status,
		ClientSecret: s.LatestInvoice.PaymentIntent.ClientSecret,
	}
	if s.CurrentPeriodStart > 0 {
		t := time.Unix(s.CurrentPeriodStart, 0).UTC()
		sub.CurrentPeriodStart = &t
	}
	if s.CurrentPeriodEnd > 0 {
		t := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &t
	}
	return sub
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *StripeClient) do(ctx context.Context, method, path string, values url.Values, op string, out any) error {
	if c.secretKey == "" {
		return &domain.ProviderError{Op: op, Message: "stripe secret key not configured"}
	}

	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return &domain.ProviderError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// err may wrap the request URL; the URL carries no secret.
		return &domain.ProviderError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var se stripeError
		message := "request failed with status " + resp.Status
		if json.NewDecoder(resp.Body).Decode(&se) == nil && strings.TrimSpace(se.Error.Message) != "" {
			message = strings.TrimSpace(se.Error.Message)
		}
		return &domain.ProviderError{Op: op, Message: message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Op: op, Message: "invalid response: " + err.Error()}
	}
	return nil
}
