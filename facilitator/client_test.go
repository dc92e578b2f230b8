package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axobase/agentpay"
)

func testEvidence() *agentpay.Evidence {
	return &agentpay.Evidence{
		ID:        "7a1c2f4e-0000-0000-0000-000000000001",
		TxHash:    "0xdeadbeef",
		NetworkID: "base-sepolia",
		Authorization: &agentpay.Authorization{
			From:  "0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			To:    "0x2096b0055bA778D6ba7a5f1E1e18100000000001",
			Value: "1000000",
		},
		CapturedAt: time.Now().UTC(),
	}
}

func TestSubmitEvidence(t *testing.T) {
	var received agentpay.Evidence
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/evidence", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL})
	require.NoError(t, client.SubmitEvidence(context.Background(), testEvidence()))
	assert.Equal(t, "0xdeadbeef", received.TxHash)
	assert.Equal(t, "1000000", received.Authorization.Value)
}

func TestSubmitEvidenceRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "unknown network"})
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL})
	err := client.SubmitEvidence(context.Background(), testEvidence())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown network")
}

func TestSubmitEvidenceNonJSONFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL})
	err := client.SubmitEvidence(context.Background(), testEvidence())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "504")
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/status/0xdeadbeef", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": "confirmed"})
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL})
	status, err := client.Status(context.Background(), "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, agentpay.SettlementConfirmed, status)
}

func TestStatusUnknownValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "maybe"})
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL})
	_, err := client.Status(context.Background(), "0xdeadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestStatusHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL})
	_, err := client.Status(context.Background(), "0xmissing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil)
	require.NotNil(t, client.httpClient)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
}
