package agentpay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentHeaderRoundTrip(t *testing.T) {
	auth := &Authorization{
		From:        "0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		To:          "0x2096b0055bA778D6ba7a5f1E1e18100000000001",
		Value:       "1000000",
		ValidAfter:  "100",
		ValidBefore: "220",
		Nonce:       "6f3c9e4d2b1a08f7c6d5e4a3b2c1d0ef",
		V:           27,
		R:           strings.Repeat("11", 32),
		S:           strings.Repeat("22", 32),
	}

	header, err := EncodePaymentHeader(auth)
	require.NoError(t, err)

	decoded, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, auth, decoded)
}

func TestDecodePaymentHeaderRejectsGarbage(t *testing.T) {
	_, err := DecodePaymentHeader("not base64 at all!!!")
	assert.Error(t, err)

	_, err = DecodePaymentHeader("bm90IGpzb24=") // "not json"
	assert.Error(t, err)
}

func TestDecodePaymentResponseBase64(t *testing.T) {
	header := EncodePaymentResponseHeader(&PaymentResponse{
		Status: "success",
		TxHash: "0xabc123",
	})

	resp, err := DecodePaymentResponse(header)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "0xabc123", resp.TxHash)
}

func TestDecodePaymentResponsePlainJSON(t *testing.T) {
	resp, err := DecodePaymentResponse(`{"status":"error","error":"invalid"}`)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "invalid", resp.Error)
}

func TestDecodePaymentResponseRequiresStatus(t *testing.T) {
	_, err := DecodePaymentResponse(`{"txHash":"0xabc"}`)
	assert.Error(t, err)
}
