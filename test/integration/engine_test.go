// Package integration_test exercises the full payment flow against
// in-process provider and facilitator mocks: challenge, authorization,
// paid request, settlement to finality.
package integration_test

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axobase/agentpay"
	"github.com/axobase/agentpay/config"
	"github.com/axobase/agentpay/custody"
	"github.com/axobase/agentpay/facilitator"
	"github.com/axobase/agentpay/test/mocks/paynet"
)

const (
	testNetwork       = "base-sepolia"
	testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testTokenContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

var testDomainSeparator = sha256.Sum256([]byte("integration-domain"))

func testBeneficiary() string {
	return common.HexToAddress("0x2096b0055ba778d6ba7a5f1e1e181000deadbeef").Hex()
}

// stubReader serves a fixed domain separator and balances without a chain.
type stubReader struct {
	domain [32]byte
	token  *big.Int
	native *big.Int
}

func (r *stubReader) DomainSeparator(context.Context, string) ([32]byte, error) {
	return r.domain, nil
}

func (r *stubReader) TokenBalance(context.Context, string, string) (*big.Int, error) {
	return r.token, nil
}

func (r *stubReader) NativeBalance(context.Context, string) (*big.Int, error) {
	return r.native, nil
}

// memLedger records everything in memory.
type memLedger struct {
	mu        sync.Mutex
	receipts  []*agentpay.Receipt
	anomalies []*agentpay.AnomalyRecord
	average   *big.Int
}

func (l *memLedger) RecordReceipt(_ context.Context, r *agentpay.Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts = append(l.receipts, r)
	return nil
}

func (l *memLedger) RecordAlert(context.Context, *agentpay.BalanceAlert) error { return nil }

func (l *memLedger) RecordAnomaly(_ context.Context, a *agentpay.AnomalyRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.anomalies = append(l.anomalies, a)
	return nil
}

func (l *memLedger) AverageCost(context.Context, string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.average, nil
}

func (l *memLedger) receiptCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.receipts)
}

type harness struct {
	engine    *agentpay.Engine
	tracker   *agentpay.SettlementTracker
	ledger    *memLedger
	custodian *custody.Static
}

func newHarness(t *testing.T, providers []config.ProviderConfig, balance int64, facURL string) *harness {
	t.Helper()

	custodian, err := custody.NewStatic(testPrivateKeyHex)
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	reader := &stubReader{domain: testDomainSeparator, token: big.NewInt(balance), native: big.NewInt(1)}
	ledger := &memLedger{}

	state := agentpay.NewBalanceState()
	state.Set(big.NewInt(balance), big.NewInt(1))

	parser := agentpay.NewChallengeParser(testNetwork)
	signer := agentpay.NewAuthorizationSigner(
		custodian, reader, agentpay.NewReplayGuard(), state, testTokenContract, logger)
	tracker := agentpay.NewSettlementTracker(
		facilitator.NewClient(&facilitator.Config{URL: facURL}), ledger, logger)
	selector := agentpay.NewProviderSelector(providers, parser, state, nil, logger)
	engine := agentpay.NewEngine(
		selector, parser, agentpay.NewAnomalyGuard(ledger, logger), signer, tracker, ledger, nil, logger)

	return &harness{engine: engine, tracker: tracker, ledger: ledger, custodian: custodian}
}

func nativeProvider(name string, url string, priority int) config.ProviderConfig {
	return config.ProviderConfig{Name: name, Kind: config.KindNative, URL: url, Priority: priority}
}

func TestPaidInferenceEndToEnd(t *testing.T) {
	provider := paynet.NewProvider(testNetwork, testDomainSeparator, testBeneficiary(), "1000000", "0xfeed01")
	providerSrv := httptest.NewServer(provider.Handler())
	defer providerSrv.Close()

	fac := paynet.NewFacilitator(0, agentpay.SettlementConfirmed)
	facSrv := httptest.NewServer(fac.Handler())
	defer facSrv.Close()

	h := newHarness(t, []config.ProviderConfig{nativeProvider("native", providerSrv.URL, 1)}, 5_000_000, facSrv.URL)

	result, err := h.engine.Infer(context.Background(), agentpay.InferRequest{Prompt: "two plus two"})
	require.NoError(t, err)
	assert.Equal(t, "native", result.Provider)
	assert.True(t, result.Paid)
	assert.Equal(t, "0xfeed01", result.TxHash)
	assert.Contains(t, string(result.Body), "completion")

	require.NotNil(t, result.Settlement)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	outcome, err := result.Settlement.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, agentpay.OutcomeConfirmed, outcome)

	h.tracker.Wait()

	// The provider verified the signature against the declared sender.
	accepted := provider.Accepted()
	require.Len(t, accepted, 1)
	assert.Equal(t, h.custodian.Address(), accepted[0].From)
	assert.Equal(t, testBeneficiary(), accepted[0].To)
	assert.Equal(t, "1000000", accepted[0].Value)

	// Evidence reached the facilitator and a receipt reached the ledger.
	evidence := fac.Evidence()
	require.Len(t, evidence, 1)
	assert.Equal(t, "0xfeed01", evidence[0].TxHash)
	assert.Equal(t, testNetwork, evidence[0].NetworkID)
	assert.Equal(t, accepted[0].Nonce, evidence[0].Authorization.Nonce)
	assert.Equal(t, 1, h.ledger.receiptCount())
	assert.Equal(t, 0, h.tracker.PendingCount())
}

func TestInvalidPaymentRetriedWithFreshNonce(t *testing.T) {
	provider := paynet.NewProvider(testNetwork, testDomainSeparator, testBeneficiary(), "1000000", "0xfeed02")
	provider.InvalidFirst = 1
	providerSrv := httptest.NewServer(provider.Handler())
	defer providerSrv.Close()

	fac := paynet.NewFacilitator(0, agentpay.SettlementConfirmed)
	facSrv := httptest.NewServer(fac.Handler())
	defer facSrv.Close()

	h := newHarness(t, []config.ProviderConfig{nativeProvider("native", providerSrv.URL, 1)}, 5_000_000, facSrv.URL)

	result, err := h.engine.Infer(context.Background(), agentpay.InferRequest{Prompt: "retry me"})
	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.Equal(t, 1, provider.Rejected())
	require.Len(t, provider.Accepted(), 1)

	h.tracker.Wait()
}

func TestFallbackToNextProvider(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer broken.Close()

	provider := paynet.NewProvider(testNetwork, testDomainSeparator, testBeneficiary(), "1000000", "0xfeed03")
	providerSrv := httptest.NewServer(provider.Handler())
	defer providerSrv.Close()

	fac := paynet.NewFacilitator(0, agentpay.SettlementConfirmed)
	facSrv := httptest.NewServer(fac.Handler())
	defer facSrv.Close()

	t.Setenv("INTEG_LEGACY_KEY", "sk-test")
	providers := []config.ProviderConfig{
		{Name: "legacy", Kind: config.KindLegacy, URL: broken.URL, Priority: 1,
			PricePer1KTokens: "10", APIKeyEnv: "INTEG_LEGACY_KEY"},
		nativeProvider("native", providerSrv.URL, 2),
	}
	h := newHarness(t, providers, 5_000_000, facSrv.URL)

	result, err := h.engine.Infer(context.Background(), agentpay.InferRequest{Prompt: "fall back"})
	require.NoError(t, err)
	assert.Equal(t, "native", result.Provider)
	assert.True(t, result.Paid)

	h.tracker.Wait()
}

func TestFreeResourceSkipsPayment(t *testing.T) {
	provider := paynet.NewProvider(testNetwork, testDomainSeparator, testBeneficiary(), "0", "")
	providerSrv := httptest.NewServer(provider.Handler())
	defer providerSrv.Close()

	h := newHarness(t, []config.ProviderConfig{nativeProvider("native", providerSrv.URL, 1)}, 5_000_000, "")

	result, err := h.engine.Infer(context.Background(), agentpay.InferRequest{Prompt: "free lunch"})
	require.NoError(t, err)
	assert.False(t, result.Paid)
	assert.Empty(t, result.TxHash)
	assert.Empty(t, provider.Accepted())
}

func TestPriceAnomalyAbortsPayment(t *testing.T) {
	provider := paynet.NewProvider(testNetwork, testDomainSeparator, testBeneficiary(), "1000000", "0xfeed04")
	providerSrv := httptest.NewServer(provider.Handler())
	defer providerSrv.Close()

	h := newHarness(t, []config.ProviderConfig{nativeProvider("native", providerSrv.URL, 1)}, 5_000_000, "")
	h.ledger.average = big.NewInt(100_000) // price is 10x the historical average

	_, err := h.engine.Infer(context.Background(), agentpay.InferRequest{Prompt: "too expensive"})
	require.Error(t, err)
	assert.ErrorIs(t, err, agentpay.ErrPriceAnomaly)
	assert.Empty(t, provider.Accepted())

	h.ledger.mu.Lock()
	defer h.ledger.mu.Unlock()
	require.Len(t, h.ledger.anomalies, 1)
	assert.Equal(t, "1000000", h.ledger.anomalies[0].Amount)
}

func TestUnaffordableProviderIsSkipped(t *testing.T) {
	provider := paynet.NewProvider(testNetwork, testDomainSeparator, testBeneficiary(), "1000000", "0xfeed05")
	providerSrv := httptest.NewServer(provider.Handler())
	defer providerSrv.Close()

	h := newHarness(t, []config.ProviderConfig{nativeProvider("native", providerSrv.URL, 1)}, 100, "")

	_, err := h.engine.Infer(context.Background(), agentpay.InferRequest{Prompt: "broke"})
	require.Error(t, err)
	assert.ErrorIs(t, err, agentpay.ErrAllProvidersFailed)
	assert.Contains(t, err.Error(), "unaffordable")
	assert.Empty(t, provider.Accepted())
}
