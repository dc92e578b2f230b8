package agentpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/axobase/agentpay/config"
)

// maxInvalidRetries bounds how many freshly-nonced authorizations the
// engine will issue when a provider keeps reporting the payment invalid.
// Without a bound a hostile provider could drive an unbounded signing loop.
const maxInvalidRetries = 3

// InferRequest is one metered service call.
type InferRequest struct {
	Prompt string `json:"prompt"`

	// Preferred names a provider that wins over the ranking when it is
	// available. Optional.
	Preferred string `json:"-"`
}

// InferResult is a successful service response.
type InferResult struct {
	Provider string
	Body     []byte

	// Paid reports whether a payment was made for this call. TxHash and
	// Settlement are set only when it was.
	Paid       bool
	TxHash     string
	Settlement *Settlement
}

// Engine is the autonomous payment engine: it selects a provider, answers
// its payment challenge, and hands settlement to the tracker — without any
// human approving individual payments.
type Engine struct {
	selector *ProviderSelector
	parser   *ChallengeParser
	anomaly  *AnomalyGuard
	signer   *AuthorizationSigner
	tracker  *SettlementTracker
	ledger   Ledger
	logger   *slog.Logger
	client   *http.Client
	getenv   func(string) string
}

// NewEngine wires the engine from its components.
func NewEngine(
	selector *ProviderSelector,
	parser *ChallengeParser,
	anomaly *AnomalyGuard,
	signer *AuthorizationSigner,
	tracker *SettlementTracker,
	ledger Ledger,
	client *http.Client,
	logger *slog.Logger,
) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		selector: selector,
		parser:   parser,
		anomaly:  anomaly,
		signer:   signer,
		tracker:  tracker,
		ledger:   ledger,
		logger:   logger,
		client:   client,
		getenv:   os.Getenv,
	}
}

// Infer performs one metered service call, paying for it if challenged.
// Provider failures fall back down the ranked list; payment-policy failures
// (anomaly, insufficient balance, malformed or mismatched challenges)
// surface immediately and are never retried with different parameters.
func (e *Engine) Infer(ctx context.Context, req InferRequest) (*InferResult, error) {
	quotes := e.selector.Quotes(ctx, req.Prompt)
	ranked := e.selector.Rank(quotes, req.Preferred)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAllProvidersFailed, quoteFailures(quotes))
	}

	var lastErr error
	for _, quote := range ranked {
		result, err := e.execute(ctx, quote, req)
		if err == nil {
			return result, nil
		}
		if isPolicyError(err) {
			return nil, err
		}
		e.logger.Warn("provider failed, trying next", "provider", quote.Provider, "err", err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllProvidersFailed, lastErr)
}

// execute runs the request against one quoted provider.
func (e *Engine) execute(ctx context.Context, quote Quote, req InferRequest) (*InferResult, error) {
	provider, ok := e.selector.Provider(quote.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", quote.Provider)
	}
	if provider.Kind == config.KindLegacy {
		return e.executeLegacy(ctx, provider, req)
	}
	return e.executeNative(ctx, provider, quote, req)
}

// executeLegacy calls a flat-API-key provider; no payment protocol.
func (e *Engine) executeLegacy(ctx context.Context, p config.ProviderConfig, req InferRequest) (*InferResult, error) {
	httpReq, err := e.newInferRequest(ctx, p.URL, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.getenv(p.APIKeyEnv))

	body, _, err := e.do(httpReq)
	if err != nil {
		return nil, err
	}
	return &InferResult{Provider: p.Name, Body: body}, nil
}

// executeNative runs the 402 challenge/response flow. The quote's
// requirement came from this request's own pre-flight probe, so no second
// probe is needed before signing.
func (e *Engine) executeNative(ctx context.Context, p config.ProviderConfig, quote Quote, req InferRequest) (*InferResult, error) {
	requirement := quote.Requirement
	if requirement == nil {
		return nil, fmt.Errorf("no payment requirement quoted for %q", p.Name)
	}

	if requirement.MaxAmountRequired == "0" {
		// Currently free; call without payment.
		httpReq, err := e.newInferRequest(ctx, p.URL, req)
		if err != nil {
			return nil, err
		}
		body, _, err := e.do(httpReq)
		if err != nil {
			return nil, err
		}
		return &InferResult{Provider: p.Name, Body: body}, nil
	}

	amount, ok := requirement.Amount()
	if !ok {
		return nil, fmt.Errorf("%w: unparseable amount %q", ErrMalformedChallenge, requirement.MaxAmountRequired)
	}
	average, err := e.ledger.AverageCost(ctx, requirement.Resource)
	if err != nil {
		e.logger.Warn("historical average unavailable, skipping anomaly check",
			"resource", requirement.Resource, "err", err)
		average = nil
	}
	if err := e.anomaly.Check(ctx, requirement.Resource, amount, average); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxInvalidRetries; attempt++ {
		auth, err := e.signer.SignAuthorization(ctx, requirement)
		if err != nil {
			return nil, err
		}

		result, retry, err := e.sendPaid(ctx, p, requirement, req, auth)
		if err == nil {
			return result, nil
		}
		if !retry {
			return nil, err
		}
		// Provider reported the authorization invalid; a fresh nonce is
		// the one legitimate same-request retry.
		e.logger.Warn("provider rejected authorization as invalid, retrying with fresh nonce",
			"provider", p.Name, "attempt", attempt+1)
		lastErr = err
	}
	return nil, fmt.Errorf("provider %q rejected %d fresh authorizations: %w", p.Name, maxInvalidRetries, lastErr)
}

// sendPaid issues the request with an X-PAYMENT header attached. The retry
// return value is true only for the provider's explicit "invalid" payment
// error, which warrants a fresh-nonce attempt.
func (e *Engine) sendPaid(ctx context.Context, p config.ProviderConfig, requirement *PaymentRequirement, req InferRequest, auth *Authorization) (*InferResult, bool, error) {
	header, err := EncodePaymentHeader(auth)
	if err != nil {
		return nil, false, err
	}

	httpReq, err := e.newInferRequest(ctx, p.URL, req)
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set(HeaderPayment, header)

	body, headers, err := e.do(httpReq)
	if err != nil {
		return nil, false, err
	}

	respHeader := headers.Get(HeaderPaymentResponse)
	if respHeader == "" {
		return nil, false, fmt.Errorf("provider %q accepted payment without %s header", p.Name, HeaderPaymentResponse)
	}
	payResp, err := DecodePaymentResponse(respHeader)
	if err != nil {
		return nil, false, err
	}

	switch payResp.Status {
	case "success":
		settlement := e.tracker.Track(p.Name, requirement.Resource, requirement.NetworkID, payResp.TxHash, auth)
		return &InferResult{
			Provider:   p.Name,
			Body:       body,
			Paid:       true,
			TxHash:     payResp.TxHash,
			Settlement: settlement,
		}, false, nil
	case "error":
		if payResp.Error == PaymentErrorInvalid {
			return nil, true, fmt.Errorf("payment reported invalid")
		}
		return nil, false, fmt.Errorf("payment rejected: %s", payResp.Error)
	default:
		return nil, false, fmt.Errorf("unknown payment response status %q", payResp.Status)
	}
}

// newInferRequest builds the JSON POST carrying the prompt.
func (e *Engine) newInferRequest(ctx context.Context, url string, req InferRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// do executes the request and returns the body for 2xx responses. A 402
// here means the provider re-challenged a paid request, which is treated as
// a provider failure rather than re-entering the payment flow.
func (e *Engine) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, resp.Header, nil
}

// isPolicyError reports whether an error must surface to the caller
// immediately instead of triggering provider fallback.
func isPolicyError(err error) bool {
	for _, sentinel := range []error{
		ErrPriceAnomaly,
		ErrInsufficientBalance,
		ErrNonceReused,
		ErrMalformedChallenge,
		ErrUnsupportedScheme,
		ErrNetworkMismatch,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func quoteFailures(quotes []Quote) string {
	reasons := make([]string, 0, len(quotes))
	for _, q := range quotes {
		if !q.Available {
			reasons = append(reasons, fmt.Sprintf("%s: %s", q.Provider, q.Reason))
		}
	}
	if len(reasons) == 0 {
		return "no providers configured"
	}
	return strings.Join(reasons, "; ")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
