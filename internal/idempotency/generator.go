package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Scope represents the scope of idempotency
type Scope string

const (
	// ScopeSubscriptionInvoice guards one invoice per subscription billing period
	ScopeSubscriptionInvoice Scope = "subscription_invoice"

	// ScopePayment is sent to the gateway for the initial charge of an invoice
	ScopePayment Scope = "payment"
	// ScopePaymentRetry is sent to the gateway for each retry attempt of a payment
	ScopePaymentRetry Scope = "payment_retry"

	// ScopeCallUsage dedups call completion notifications
	ScopeCallUsage Scope = "call_usage"
)

// Generator generates idempotency keys
type Generator struct{}

// NewGenerator creates a new idempotency key generator
func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey generates an idempotency key from a scope and parameters
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:8])) // first 8 bytes for readability
}

// ValidateKey validates if an idempotency key matches expected parameters
func (g *Generator) ValidateKey(scope Scope, params map[string]interface{}, key string) bool {
	return g.GenerateKey(scope, params) == key
}

// InvoiceKey is the key of the single invoice of a subscription billing period
func (g *Generator) InvoiceKey(subscriptionID, period string) string {
	return g.GenerateKey(ScopeSubscriptionInvoice, map[string]interface{}{
		"subscription_id": subscriptionID,
		"period":          period,
	})
}

// PaymentKey is stable for the initial gateway charge of a payment
func (g *Generator) PaymentKey(paymentID string) string {
	return g.GenerateKey(ScopePayment, map[string]interface{}{
		"payment_id": paymentID,
	})
}

// RetryKey is stable for one retry attempt so transport level resends
// never double charge, while distinct attempts get distinct keys.
func (g *Generator) RetryKey(paymentID string, attemptNumber int) string {
	return g.GenerateKey(ScopePaymentRetry, map[string]interface{}{
		"payment_id": paymentID,
		"attempt":    attemptNumber,
	})
}
