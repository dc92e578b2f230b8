package agentpay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Wire contract header names. Header values are base64-encoded JSON unless
// noted otherwise.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentInfo     = "X-PAYMENT-INFO"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// EncodePaymentHeader encodes a signed authorization for the X-PAYMENT
// request header.
func EncodePaymentHeader(auth *Authorization) (string, error) {
	data, err := json.Marshal(auth)
	if err != nil {
		return "", fmt.Errorf("failed to marshal authorization: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader decodes an X-PAYMENT header back into an
// authorization. Used by test fixtures standing in for providers.
func DecodePaymentHeader(header string) (*Authorization, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	var auth Authorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("invalid authorization JSON: %w", err)
	}
	return &auth, nil
}

// DecodePaymentResponse decodes an X-PAYMENT-RESPONSE header. Base64 JSON
// is tried first, then plain JSON.
func DecodePaymentResponse(header string) (*PaymentResponse, error) {
	raw := []byte(header)
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil && json.Valid(decoded) {
		raw = decoded
	}
	var resp PaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid payment response: %w", err)
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("payment response missing status")
	}
	return &resp, nil
}

// EncodePaymentResponseHeader encodes a payment response header value.
// Used by test fixtures standing in for providers.
func EncodePaymentResponseHeader(resp *PaymentResponse) string {
	data, err := json.Marshal(resp)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal payment response: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}
