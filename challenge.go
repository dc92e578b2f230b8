package agentpay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// defaultValidForSeconds is applied when a challenge omits its validity
// window.
const defaultValidForSeconds = 60

// requirementSchema validates the structure of a decoded challenge before
// any field is interpreted. Challenge headers are adversarial input; shape
// errors are rejected here rather than surfacing as zero values downstream.
const requirementSchema = `{
	"type": "object",
	"required": ["scheme", "networkId", "maxAmountRequired", "resource", "beneficiary"],
	"properties": {
		"scheme":            {"type": "string", "minLength": 1},
		"networkId":         {"type": "string", "minLength": 1},
		"maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
		"resource":          {"type": "string", "minLength": 1},
		"beneficiary":       {"type": "string", "minLength": 1},
		"usdcContract":      {"type": "string"},
		"validForSeconds":   {"type": "integer", "minimum": 1}
	}
}`

var requirementSchemaLoader = gojsonschema.NewStringLoader(requirementSchema)

// ChallengeParser decodes payment-required challenges for one configured
// network. It holds no mutable state; parsing is a pure function of the
// header bytes and the configured network.
type ChallengeParser struct {
	network string
}

// NewChallengeParser returns a parser bound to the engine's network id.
func NewChallengeParser(network string) *ChallengeParser {
	return &ChallengeParser{network: network}
}

// Parse decodes a challenge header into a PaymentRequirement. The header is
// tried as base64-encoded JSON first, then as plain JSON. The scheme must be
// "exact" and the declared network must match the configured network.
func (p *ChallengeParser) Parse(header string) (*PaymentRequirement, error) {
	raw, err := decodeChallengeBytes(header)
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(requirementSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformedChallenge, schemaFailure(result))
	}

	var req PaymentRequirement
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
	}

	if req.Scheme != SchemeExact {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, req.Scheme)
	}
	if req.NetworkID != p.network {
		return nil, fmt.Errorf("%w: challenge declares %q, engine configured for %q",
			ErrNetworkMismatch, req.NetworkID, p.network)
	}
	if req.ValidForSeconds == 0 {
		req.ValidForSeconds = defaultValidForSeconds
	}
	return &req, nil
}

// decodeChallengeBytes returns the JSON document carried by a challenge
// header, whether base64-wrapped or plain.
func decodeChallengeBytes(header string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil {
		if json.Valid(decoded) {
			return decoded, nil
		}
	}
	if json.Valid([]byte(header)) {
		return []byte(header), nil
	}
	return nil, fmt.Errorf("%w: header is neither base64 JSON nor plain JSON", ErrMalformedChallenge)
}

func schemaFailure(result *gojsonschema.Result) string {
	if errs := result.Errors(); len(errs) > 0 {
		return errs[0].String()
	}
	return "schema validation failed"
}
