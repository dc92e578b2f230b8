package agentpay

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequirement() PaymentRequirement {
	return PaymentRequirement{
		Scheme:            SchemeExact,
		NetworkID:         "base-sepolia",
		MaxAmountRequired: "1000000",
		Resource:          "/v1/infer",
		Beneficiary:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		USDCContract:      "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		ValidForSeconds:   120,
	}
}

func encodeChallenge(t *testing.T, req PaymentRequirement) string {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestParseChallengeBase64RoundTrip(t *testing.T) {
	parser := NewChallengeParser("base-sepolia")
	want := validRequirement()

	got, err := parser.Parse(encodeChallenge(t, want))
	require.NoError(t, err)
	assert.Equal(t, &want, got)
}

func TestParseChallengePlainJSONFallback(t *testing.T) {
	parser := NewChallengeParser("base-sepolia")
	want := validRequirement()
	data, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := parser.Parse(string(data))
	require.NoError(t, err)
	assert.Equal(t, &want, got)
}

func TestParseChallengeDefaultsValidityWindow(t *testing.T) {
	parser := NewChallengeParser("base-sepolia")
	req := validRequirement()
	req.ValidForSeconds = 0

	got, err := parser.Parse(encodeChallenge(t, req))
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.ValidForSeconds)
}

func TestParseChallengeMalformed(t *testing.T) {
	parser := NewChallengeParser("base-sepolia")

	for name, header := range map[string]string{
		"garbage":           "not json at all {{{",
		"base64 of garbage": base64.StdEncoding.EncodeToString([]byte("still not json")),
		"wrong shape":       `{"scheme": "exact"}`,
		"non-numeric amount": encodeChallenge(t, func() PaymentRequirement {
			r := validRequirement()
			r.MaxAmountRequired = "1.5 dollars"
			return r
		}()),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parser.Parse(header)
			assert.ErrorIs(t, err, ErrMalformedChallenge)
		})
	}
}

func TestParseChallengeUnsupportedScheme(t *testing.T) {
	parser := NewChallengeParser("base-sepolia")
	req := validRequirement()
	req.Scheme = "upto"

	_, err := parser.Parse(encodeChallenge(t, req))
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestParseChallengeNetworkMismatch(t *testing.T) {
	parser := NewChallengeParser("base")
	req := validRequirement() // declares base-sepolia

	_, err := parser.Parse(encodeChallenge(t, req))
	assert.ErrorIs(t, err, ErrNetworkMismatch)
}
