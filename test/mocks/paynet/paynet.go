// Package paynet provides in-process mocks of the two network peers the
// payment engine talks to: a protocol-native paid provider and a settlement
// facilitator. Both are gin handlers suitable for httptest servers.
package paynet

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/axobase/agentpay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Provider mocks an inference provider that meters access with 402 payment
// challenges. Unpaid requests get a challenge; paid requests have their
// authorization signature verified against the configured domain separator.
type Provider struct {
	// Network is the network id advertised in challenges.
	Network string

	// DomainSeparator is the typed-data domain authorizations must be
	// signed under.
	DomainSeparator [32]byte

	// Beneficiary receives the payment; authorizations must name it.
	Beneficiary string

	// Price is the advertised amount in minor units. "0" makes the
	// resource free.
	Price string

	// TxHash is returned in successful payment responses.
	TxHash string

	// InvalidFirst rejects the first N otherwise-valid payments with the
	// "invalid" error, exercising the caller's fresh-nonce retry.
	InvalidFirst int

	// ResponseBody is the body returned on success.
	ResponseBody string

	mu            sync.Mutex
	accepted      []*agentpay.Authorization
	rejected      int
	invalidServed int
	nonces        map[string]bool
}

// NewProvider returns a provider mock with the given price.
func NewProvider(network string, domainSeparator [32]byte, beneficiary, price, txHash string) *Provider {
	return &Provider{
		Network:         network,
		DomainSeparator: domainSeparator,
		Beneficiary:     beneficiary,
		Price:           price,
		TxHash:          txHash,
		ResponseBody:    `{"completion":"ok"}`,
		nonces:          make(map[string]bool),
	}
}

// Handler returns the provider's HTTP handler.
func (p *Provider) Handler() http.Handler {
	router := gin.New()
	router.POST("/*path", p.handle)
	return router
}

// Accepted returns the authorizations the provider accepted, in order.
func (p *Provider) Accepted() []*agentpay.Authorization {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*agentpay.Authorization, len(p.accepted))
	copy(out, p.accepted)
	return out
}

// Rejected reports how many payments were rejected.
func (p *Provider) Rejected() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejected
}

func (p *Provider) handle(c *gin.Context) {
	payment := c.GetHeader(agentpay.HeaderPayment)
	if payment == "" {
		if p.Price == "0" {
			c.String(http.StatusOK, p.ResponseBody)
			return
		}
		c.Header(agentpay.HeaderPaymentInfo, p.challenge(c))
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment required"})
		return
	}

	auth, err := agentpay.DecodePaymentHeader(payment)
	if err != nil {
		p.reject(c, agentpay.PaymentErrorInvalid)
		return
	}
	if reason := p.verify(auth); reason != "" {
		p.reject(c, reason)
		return
	}

	p.mu.Lock()
	if p.invalidServed < p.InvalidFirst {
		p.invalidServed++
		p.rejected++
		p.mu.Unlock()
		p.respondError(c, agentpay.PaymentErrorInvalid)
		return
	}
	p.nonces[auth.Nonce] = true
	p.accepted = append(p.accepted, auth)
	p.mu.Unlock()

	c.Header(agentpay.HeaderPaymentResponse, agentpay.EncodePaymentResponseHeader(&agentpay.PaymentResponse{
		Status: "success",
		TxHash: p.TxHash,
	}))
	c.String(http.StatusOK, p.ResponseBody)
}

// verify checks the authorization the way a real provider's verifier would:
// the declared sender must have produced the signature, the value must match
// the advertised price, the beneficiary must be the provider's, and the
// nonce must be fresh.
func (p *Provider) verify(auth *agentpay.Authorization) string {
	signer, err := agentpay.RecoverAuthorizationSigner(auth, p.DomainSeparator)
	if err != nil || signer != auth.From {
		return agentpay.PaymentErrorInvalid
	}
	if auth.Value != p.Price {
		return agentpay.PaymentErrorFundsExceeded
	}
	if auth.To != p.Beneficiary {
		return agentpay.PaymentErrorInvalid
	}
	p.mu.Lock()
	seen := p.nonces[auth.Nonce]
	p.mu.Unlock()
	if seen {
		return agentpay.PaymentErrorInvalid
	}
	return ""
}

func (p *Provider) reject(c *gin.Context, reason string) {
	p.mu.Lock()
	p.rejected++
	p.mu.Unlock()
	p.respondError(c, reason)
}

func (p *Provider) respondError(c *gin.Context, reason string) {
	c.Header(agentpay.HeaderPaymentResponse, agentpay.EncodePaymentResponseHeader(&agentpay.PaymentResponse{
		Status: "error",
		Error:  reason,
	}))
	c.JSON(http.StatusOK, gin.H{"error": reason})
}

func (p *Provider) challenge(c *gin.Context) string {
	req := agentpay.PaymentRequirement{
		Scheme:            agentpay.SchemeExact,
		NetworkID:         p.Network,
		MaxAmountRequired: p.Price,
		Resource:          c.Request.URL.Path,
		Beneficiary:       p.Beneficiary,
	}
	data, _ := json.Marshal(req)
	return base64.StdEncoding.EncodeToString(data)
}

// Facilitator mocks the settlement facilitator service. Evidence
// submissions can be made to fail a configured number of times, and
// settlements stay pending for a configured number of polls before turning
// terminal.
type Facilitator struct {
	// FailSubmits rejects the first N evidence submissions with a 500.
	FailSubmits int

	// PendingPolls serves "pending" for the first N status reads of each
	// transaction.
	PendingPolls int

	// FinalStatus is served once PendingPolls is exhausted.
	FinalStatus agentpay.SettlementStatus

	mu       sync.Mutex
	submits  int
	evidence []*agentpay.Evidence
	polls    map[string]int
}

// NewFacilitator returns a facilitator mock that confirms settlements after
// the given number of pending polls.
func NewFacilitator(pendingPolls int, finalStatus agentpay.SettlementStatus) *Facilitator {
	return &Facilitator{
		PendingPolls: pendingPolls,
		FinalStatus:  finalStatus,
		polls:        make(map[string]int),
	}
}

// Handler returns the facilitator's HTTP handler.
func (f *Facilitator) Handler() http.Handler {
	router := gin.New()
	router.POST("/evidence", f.handleEvidence)
	router.GET("/status/:txHash", f.handleStatus)
	return router
}

// Evidence returns the accepted evidence submissions, in order.
func (f *Facilitator) Evidence() []*agentpay.Evidence {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*agentpay.Evidence, len(f.evidence))
	copy(out, f.evidence)
	return out
}

// Submits reports the total number of submission attempts, including
// rejected ones.
func (f *Facilitator) Submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *Facilitator) handleEvidence(c *gin.Context) {
	f.mu.Lock()
	f.submits++
	if f.submits <= f.FailSubmits {
		f.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "facilitator unavailable"})
		return
	}
	f.mu.Unlock()

	var ev agentpay.Evidence
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed evidence"})
		return
	}

	f.mu.Lock()
	f.evidence = append(f.evidence, &ev)
	f.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (f *Facilitator) handleStatus(c *gin.Context) {
	txHash := c.Param("txHash")

	f.mu.Lock()
	f.polls[txHash]++
	pending := f.polls[txHash] <= f.PendingPolls
	f.mu.Unlock()

	status := f.FinalStatus
	if pending {
		status = agentpay.SettlementPending
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
