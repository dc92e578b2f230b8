package agentpay

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers match with
// errors.Is; wrapped detail carries the human-readable context.
var (
	ErrMalformedChallenge  = errors.New("malformed payment challenge")
	ErrUnsupportedScheme   = errors.New("unsupported payment scheme")
	ErrNetworkMismatch     = errors.New("payment network mismatch")
	ErrPriceAnomaly        = errors.New("price anomaly detected")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNonceReused         = errors.New("authorization nonce reused")
	ErrKeyUnavailable      = errors.New("signing key unavailable")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrEvidenceExhausted   = errors.New("evidence submission retries exhausted")
	ErrAllProvidersFailed  = errors.New("all providers failed")
)

// PaymentError carries a machine-readable code alongside the message, for
// callers that surface structured results instead of Go errors.
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes matching the sentinel taxonomy.
const (
	ErrCodeMalformedChallenge  = "malformed_challenge"
	ErrCodeUnsupportedScheme   = "unsupported_scheme"
	ErrCodeNetworkMismatch     = "network_mismatch"
	ErrCodePriceAnomaly        = "price_anomaly"
	ErrCodeInsufficientBalance = "insufficient_balance"
	ErrCodeNonceReused         = "nonce_reused"
	ErrCodeKeyUnavailable      = "key_unavailable"
	ErrCodeSettlementFailed    = "settlement_failed"
	ErrCodeEvidenceExhausted   = "evidence_exhausted"
	ErrCodeAllProvidersFailed  = "all_providers_failed"
)

var errCodes = map[error]string{
	ErrMalformedChallenge:  ErrCodeMalformedChallenge,
	ErrUnsupportedScheme:   ErrCodeUnsupportedScheme,
	ErrNetworkMismatch:     ErrCodeNetworkMismatch,
	ErrPriceAnomaly:        ErrCodePriceAnomaly,
	ErrInsufficientBalance: ErrCodeInsufficientBalance,
	ErrNonceReused:         ErrCodeNonceReused,
	ErrKeyUnavailable:      ErrCodeKeyUnavailable,
	ErrSettlementFailed:    ErrCodeSettlementFailed,
	ErrEvidenceExhausted:   ErrCodeEvidenceExhausted,
	ErrAllProvidersFailed:  ErrCodeAllProvidersFailed,
}

// AsPaymentError converts any engine error into its structured form. Errors
// outside the taxonomy are reported under a generic code.
func AsPaymentError(err error) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	for sentinel, code := range errCodes {
		if errors.Is(err, sentinel) {
			return &PaymentError{Code: code, Message: err.Error()}
		}
	}
	return &PaymentError{Code: "payment_failed", Message: err.Error()}
}
