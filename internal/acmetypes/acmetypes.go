// Package acmetypes holds the ACME wire resource types: Directory, Order,
// Authorization, Challenge and the structured Problem error document,
// adapted from the teacher's acme/resources package to the shapes the
// order state machine needs (spec.md §3).
package acmetypes

import "encoding/json"

// Directory is the ACME-server-advertised URL map plus optional metadata.
type Directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	NewAuthz   string `json:"newAuthz,omitempty"`
	RevokeCert string `json:"revokeCert"`
	KeyChange  string `json:"keyChange"`
	Meta       *struct {
		TermsOfService          string   `json:"termsOfService,omitempty"`
		Website                 string   `json:"website,omitempty"`
		CAAIdentities           []string `json:"caaIdentities,omitempty"`
		ExternalAccountRequired bool     `json:"externalAccountRequired,omitempty"`
	} `json:"meta,omitempty"`
}

// OrderStatus enumerates the ACME order lifecycle states.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderReady      OrderStatus = "ready"
	OrderProcessing OrderStatus = "processing"
	OrderValid      OrderStatus = "valid"
	OrderInvalid    OrderStatus = "invalid"
)

// WireIdentifier is the {type, value} identifier shape used on the wire.
type WireIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Order is the in-flight ACME order resource.
type Order struct {
	URL            string           `json:"-"`
	Status         OrderStatus      `json:"status"`
	Identifiers    []WireIdentifier `json:"identifiers"`
	Authorizations []string         `json:"authorizations"`
	Finalize       string           `json:"finalize"`
	Certificate    string           `json:"certificate,omitempty"`
	Error          *Problem         `json:"error,omitempty"`
}

// NewOrderRequest is the payload POSTed to the directory's newOrder URL.
type NewOrderRequest struct {
	Identifiers []WireIdentifier `json:"identifiers"`
}

// AuthorizationStatus enumerates the ACME authorization lifecycle states.
type AuthorizationStatus string

const (
	AuthPending      AuthorizationStatus = "pending"
	AuthValid        AuthorizationStatus = "valid"
	AuthInvalid      AuthorizationStatus = "invalid"
	AuthDeactivated  AuthorizationStatus = "deactivated"
	AuthExpired      AuthorizationStatus = "expired"
	AuthRevoked      AuthorizationStatus = "revoked"
)

// Authorization is the ACME authorization resource for one identifier.
type Authorization struct {
	Identifier WireIdentifier      `json:"identifier"`
	Status     AuthorizationStatus `json:"status"`
	Challenges []Challenge         `json:"challenges"`
	Wildcard   bool                `json:"wildcard,omitempty"`
}

// ChallengeStatus enumerates the ACME challenge lifecycle states.
type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "pending"
	ChallengeProcessing ChallengeStatus = "processing"
	ChallengeValid      ChallengeStatus = "valid"
	ChallengeInvalid    ChallengeStatus = "invalid"
)

// Challenge is a single ACME challenge within an authorization. Unknown
// challenge Types are preserved on the wire struct but the decode helper
// below drops them from the Authorization's Challenges slice, per
// spec.md's "challenges of unknown kind are dropped on deserialisation"
// invariant (so a forward-compatible server cannot starve the client).
type Challenge struct {
	Type   string          `json:"type"`
	URL    string          `json:"url"`
	Token  string          `json:"token"`
	Status ChallengeStatus `json:"status"`
	Error  *Problem        `json:"error,omitempty"`
}

// KnownChallengeTypes is the set of challenge wire types this client
// understands.
var KnownChallengeTypes = map[string]bool{
	"http-01":     true,
	"dns-01":      true,
	"tls-alpn-01": true,
}

// UnmarshalAuthorization decodes an Authorization, dropping any challenges
// of an unrecognised type.
func UnmarshalAuthorization(data []byte) (*Authorization, error) {
	var raw struct {
		Identifier WireIdentifier      `json:"identifier"`
		Status     AuthorizationStatus `json:"status"`
		Challenges []Challenge         `json:"challenges"`
		Wildcard   bool                `json:"wildcard,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	kept := raw.Challenges[:0]
	for _, c := range raw.Challenges {
		if KnownChallengeTypes[c.Type] {
			kept = append(kept, c)
		}
	}
	return &Authorization{
		Identifier: raw.Identifier,
		Status:     raw.Status,
		Challenges: kept,
		Wildcard:   raw.Wildcard,
	}, nil
}

// AccountRequest is the payload POSTed to newAccount or used to update
// an existing account's contacts.
type AccountRequest struct {
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting     bool            `json:"onlyReturnExisting"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// AccountResponse is the server's representation of an account resource.
type AccountResponse struct {
	Status  string   `json:"status"`
	Contact []string `json:"contact,omitempty"`
	Orders  string   `json:"orders,omitempty"`
}

// KeyChangeRequest is the inner JWS payload of an account key rollover
// (RFC 8555 §7.3.5): the account URL and the old public key, signed
// by the new key, then wrapped in an outer JWS signed by the old key.
type KeyChangeRequest struct {
	Account string          `json:"account"`
	OldKey  json.RawMessage `json:"oldKey"`
}

// Problem is a structured ACME error document (RFC 7807 subset).
type Problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func (p *Problem) Error() string {
	return p.Type + ": " + p.Detail
}
