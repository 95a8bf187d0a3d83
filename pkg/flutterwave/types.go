package flutterwave

import "github.com/shopspring/decimal"

// InitializePaymentRequest carries everything a hosted checkout session
// needs. Meta is echoed back verbatim on webhooks and verification.
type InitializePaymentRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Email     string
	Name      string
	Meta      map[string]any
}

// InitializePaymentResponse is the hosted checkout handoff.
type InitializePaymentResponse struct {
	PaymentLink string
	Reference   string
}

// VerifyData is the provider's authoritative view of a transaction.
type VerifyData struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Customer VerifyCustomer  `json:"customer"`
	Meta     map[string]any  `json:"meta"`
}

type VerifyCustomer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// WebhookEvent is the payload posted to the webhook endpoint. Data mirrors
// the verification shape so both paths resolve transactions identically.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Customer VerifyCustomer  `json:"customer"`
	Meta     map[string]any  `json:"meta"`
}

type customerPayload struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type initializePayload struct {
	TxRef       string          `json:"tx_ref"`
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	Customer    customerPayload `json:"customer"`
	Meta        map[string]any  `json:"meta,omitempty"`
}

type initializeEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

type verifyEnvelope struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Data    VerifyData `json:"data"`
}
