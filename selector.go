package agentpay

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/axobase/agentpay/config"
)

// charsPerToken is the token-count heuristic for legacy providers that
// price per 1000 tokens instead of quoting over the wire.
const charsPerToken = 4

// ProviderSelector quotes the configured providers for each request, ranks
// the affordable ones, and walks down the ranking on failure.
type ProviderSelector struct {
	providers []config.ProviderConfig
	parser    *ChallengeParser
	balance   *BalanceState
	client    *http.Client
	logger    *slog.Logger
	getenv    func(string) string
}

// NewProviderSelector builds a selector over the configured provider list.
func NewProviderSelector(
	providers []config.ProviderConfig,
	parser *ChallengeParser,
	balance *BalanceState,
	client *http.Client,
	logger *slog.Logger,
) *ProviderSelector {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderSelector{
		providers: providers,
		parser:    parser,
		balance:   balance,
		client:    client,
		logger:    logger,
		getenv:    os.Getenv,
	}
}

// Quotes obtains a fresh quote from every configured provider. Quotes are
// never cached across requests; prices and balance both drift.
func (s *ProviderSelector) Quotes(ctx context.Context, prompt string) []Quote {
	quotes := make([]Quote, 0, len(s.providers))
	for _, p := range s.providers {
		quotes = append(quotes, s.quote(ctx, p, prompt))
	}
	return quotes
}

func (s *ProviderSelector) quote(ctx context.Context, p config.ProviderConfig, prompt string) Quote {
	q := Quote{Provider: p.Name, Priority: p.Priority}

	switch p.Kind {
	case config.KindNative:
		req, err := s.probe(ctx, p)
		if err != nil {
			q.Reason = err.Error()
			return q
		}
		cost, ok := req.Amount()
		if !ok {
			q.Reason = fmt.Sprintf("unparseable quoted amount %q", req.MaxAmountRequired)
			return q
		}
		q.Cost = cost
		q.Requirement = req
	case config.KindLegacy:
		if s.getenv(p.APIKeyEnv) == "" {
			q.Reason = fmt.Sprintf("credential %s not set", p.APIKeyEnv)
			return q
		}
		q.Cost = estimateLegacyCost(prompt, p.PricePer1KTokens)
	default:
		q.Reason = fmt.Sprintf("unknown provider kind %q", p.Kind)
		return q
	}

	if balance := s.balance.Token(); balance.Cmp(q.Cost) < 0 {
		q.Reason = fmt.Sprintf("unaffordable: cost %s exceeds balance %s", q.Cost, balance)
		return q
	}
	q.Available = true
	return q
}

// probe sends a pre-flight request without payment and reads the 402
// challenge as the provider's current price. A 2xx response means the
// resource is currently free.
func (s *ProviderSelector) probe(ctx context.Context, p config.ProviderConfig) (*PaymentRequirement, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		header := resp.Header.Get(HeaderPaymentInfo)
		if header == "" {
			return nil, fmt.Errorf("402 without %s header", HeaderPaymentInfo)
		}
		return s.parser.Parse(header)
	case resp.StatusCode < 300:
		return &PaymentRequirement{
			Scheme:            SchemeExact,
			NetworkID:         s.parser.network,
			MaxAmountRequired: "0",
			Resource:          p.URL,
		}, nil
	default:
		return nil, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
}

// estimateLegacyCost estimates minor-unit cost from a character-count token
// heuristic and the provider's per-1000-token price. Rounds up so the
// affordability check never undershoots.
func estimateLegacyCost(prompt, pricePer1K string) *big.Int {
	price, ok := new(big.Int).SetString(pricePer1K, 10)
	if !ok {
		return new(big.Int)
	}
	tokens := int64(len(prompt)+charsPerToken-1) / charsPerToken
	cost := new(big.Int).Mul(price, big.NewInt(tokens))
	cost.Add(cost, big.NewInt(999))
	return cost.Div(cost, big.NewInt(1000))
}

// Rank filters quotes to the available ones and orders them by priority
// then cost. A caller-preferred provider that is available wins outright,
// regardless of rank.
func (s *ProviderSelector) Rank(quotes []Quote, preferred string) []Quote {
	available := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Available {
			available = append(available, q)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		if available[i].Priority != available[j].Priority {
			return available[i].Priority < available[j].Priority
		}
		return available[i].Cost.Cmp(available[j].Cost) < 0
	})

	if preferred != "" {
		for i, q := range available {
			if q.Provider == preferred && i > 0 {
				reordered := append([]Quote{q}, append(append([]Quote{}, available[:i]...), available[i+1:]...)...)
				return reordered
			}
		}
	}
	return available
}

// Provider returns the configuration for a named provider.
func (s *ProviderSelector) Provider(name string) (config.ProviderConfig, bool) {
	for _, p := range s.providers {
		if p.Name == name {
			return p, true
		}
	}
	return config.ProviderConfig{}, false
}
