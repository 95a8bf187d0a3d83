package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/storehubhq/storehub-backend/pkg/config"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

const (
	statusSuccessful = "successful"
	statusFailed     = "failed"
)

var (
	errSecretKeyRequired  = errors.New("flutterwave secret key is required")
	errSecretHashRequired = errors.New("flutterwave webhook secret hash is required")
)

// Client talks to the hosted-checkout payment API. Every call carries the
// configured timeout and transient failures are retried a bounded number of
// times with exponential backoff.
type Client struct {
	secretKey   string
	secretHash  string
	baseURL     string
	redirectURL string
	maxRetries  int
	retryDelay  time.Duration
	httpClient  *http.Client
}

// NewClient validates the gateway configuration and builds a client.
func NewClient(ctx context.Context, cfg config.FlutterwaveConfig, logg *logger.Logger) (*Client, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	secretHash := strings.TrimSpace(cfg.SecretHash)
	if secretHash == "" {
		return nil, errSecretHashRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	if logg != nil {
		logg.Info(ctx, "flutterwave client initialized")
	}

	return &Client{
		secretKey:   secretKey,
		secretHash:  secretHash,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		redirectURL: cfg.RedirectURL,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// SigningSecret returns the shared hash the provider echoes in the
// verif-hash webhook header.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.secretHash
}

// InitializePayment creates a hosted checkout session and returns the
// payment link the user is redirected to.
func (c *Client) InitializePayment(ctx context.Context, req *InitializePaymentRequest) (*InitializePaymentResponse, error) {
	if req == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment request is required")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}

	payload := initializePayload{
		TxRef:       req.Reference,
		Amount:      req.Amount.String(),
		Currency:    req.Currency,
		RedirectURL: c.redirectURL,
		Customer: customerPayload{
			Email: req.Email,
			Name:  req.Name,
		},
		Meta: req.Meta,
	}

	var envelope initializeEnvelope
	if err := c.do(ctx, http.MethodPost, "/payments", payload, &envelope); err != nil {
		return nil, err
	}
	if !strings.EqualFold(envelope.Status, "success") {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("initialize payment rejected: %s", envelope.Message))
	}

	return &InitializePaymentResponse{
		PaymentLink: envelope.Data.Link,
		Reference:   req.Reference,
	}, nil
}

// VerifyPayment confirms a transaction's outcome by provider transaction id.
func (c *Client) VerifyPayment(ctx context.Context, providerTxID string) (*VerifyData, error) {
	id := strings.TrimSpace(providerTxID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider transaction id is required")
	}

	var envelope verifyEnvelope
	if err := c.do(ctx, http.MethodGet, "/transactions/"+id+"/verify", nil, &envelope); err != nil {
		return nil, err
	}
	if !strings.EqualFold(envelope.Status, "success") {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("verify payment rejected: %s", envelope.Message))
	}
	return &envelope.Data, nil
}

// do issues one API call, retrying transport errors and 5xx responses with
// capped exponential backoff. 4xx responses surface immediately.
func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway payload")
		}
		payload = raw
	}

	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeGateway, err, "gateway unreachable"))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read gateway response"))
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("gateway returned %d", resp.StatusCode)))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, truncate(raw, 256)))
		}

		if dest == nil {
			return nil
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway response")
		}
		return nil
	})
}

func truncate(raw []byte, max int) string {
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max])
}

// IsSuccessfulStatus reports whether a provider-reported status means payment
// cleared.
func IsSuccessfulStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), statusSuccessful)
}

// IsFailedStatus reports whether a provider-reported status is a terminal
// failure.
func IsFailedStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), statusFailed)
}
