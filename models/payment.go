package models

import "time"

// --- PaymentRequest & Invoice ---
// IdempotencyKey is stable per (session, version) so a resubmitted settle
// cannot create a second charge at the gateway.
type PaymentRequest struct {
	SessionID      string
	PayerID        string
	Amount         float64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Invoice records a settled negotiation payment.
type Invoice struct {
	InvoiceID  string    `bson:"invoiceId" json:"invoiceId"`
	SessionID  string    `bson:"sessionId" json:"sessionId"`
	PayerID    string    `bson:"payerId" json:"payerId"`
	Amount     float64   `bson:"amount" json:"amount"`
	Currency   string    `bson:"currency" json:"currency"`
	Status     string    `bson:"status" json:"status"`
	PaymentRef string    `bson:"paymentRef" json:"paymentRef"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

// TaxBreakdown is the result of the external tax function for one amount.
type TaxBreakdown struct {
	NetAmount float64 `json:"netAmount"`
	TaxAmount float64 `json:"taxAmount"`
	Rate      float64 `json:"rate"`
}

// QuoteBreakdown is the payable-figure preview shown to both parties before
// acceptance and used verbatim for the payment handoff.
type QuoteBreakdown struct {
	Price      float64 `json:"price"`
	FeeRate    float64 `json:"feeRate"`
	Fee        float64 `json:"fee"`
	GrossTotal float64 `json:"grossTotal"`
	TaxRate    float64 `json:"taxRate"`
	TaxAmount  float64 `json:"taxAmount"`
	NetPayable float64 `json:"netPayable"`
	Currency   string  `json:"currency"`
}
