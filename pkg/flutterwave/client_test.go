package flutterwave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storehubhq/storehub-backend/pkg/config"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), config.FlutterwaveConfig{
		SecretKey:      "sk_test",
		SecretHash:     "hash_test",
		BaseURL:        baseURL,
		RedirectURL:    "https://app.example.com/billing/return",
		RequestTimeout: 2 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresSecrets(t *testing.T) {
	_, err := NewClient(context.Background(), config.FlutterwaveConfig{SecretHash: "h"}, nil)
	if err == nil {
		t.Fatal("expected error for missing secret key")
	}
	_, err = NewClient(context.Background(), config.FlutterwaveConfig{SecretKey: "k"}, nil)
	if err == nil {
		t.Fatal("expected error for missing secret hash")
	}
}

func TestInitializePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if payload["tx_ref"] != "sub_abc123" {
			t.Errorf("unexpected tx_ref %v", payload["tx_ref"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "success",
			"message": "Hosted Link",
			"data":    map[string]any{"link": "https://checkout.example.com/pay/xyz"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.InitializePayment(context.Background(), &InitializePaymentRequest{
		Reference: "sub_abc123",
		Amount:    decimal.RequireFromString("49.99"),
		Currency:  "USD",
		Email:     "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("InitializePayment: %v", err)
	}
	if resp.PaymentLink != "https://checkout.example.com/pay/xyz" {
		t.Errorf("unexpected payment link %q", resp.PaymentLink)
	}
	if resp.Reference != "sub_abc123" {
		t.Errorf("unexpected reference %q", resp.Reference)
	}
}

func TestVerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/98765/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"id":       98765,
				"tx_ref":   "sub_abc123",
				"status":   "successful",
				"amount":   49.99,
				"currency": "USD",
				"customer": map[string]any{"email": "buyer@example.com"},
				"meta":     map[string]any{"user_id": "u1"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	data, err := c.VerifyPayment(context.Background(), "98765")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if data.TxRef != "sub_abc123" {
		t.Errorf("unexpected tx_ref %q", data.TxRef)
	}
	if !IsSuccessfulStatus(data.Status) {
		t.Errorf("expected successful status, got %q", data.Status)
	}
	if data.Meta["user_id"] != "u1" {
		t.Errorf("unexpected meta %v", data.Meta)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"id": 1, "tx_ref": "r", "status": "successful"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.VerifyPayment(context.Background(), "1"); err != nil {
		t.Fatalf("VerifyPayment after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.VerifyPayment(context.Background(), "1")
	if err == nil {
		t.Fatal("expected error for 4xx response")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Errorf("expected gateway error code, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestStatusHelpers(t *testing.T) {
	if !IsSuccessfulStatus(" Successful ") {
		t.Error("expected successful")
	}
	if IsSuccessfulStatus("failed") {
		t.Error("did not expect successful")
	}
	if !IsFailedStatus("FAILED") {
		t.Error("expected failed")
	}
	if IsFailedStatus("pending") {
		t.Error("did not expect failed")
	}
}
