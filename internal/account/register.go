package account

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acmed/acmed/internal/acmecrypto"
	"github.com/acmed/acmed/internal/acmetypes"
	"github.com/acmed/acmed/internal/endpoint"
	"github.com/acmed/acmed/internal/transport"
)

func (a *Account) contactStrings() []string {
	out := make([]string, len(a.Contacts))
	for i, c := range a.Contacts {
		out[i] = c.String()
	}
	return out
}

// Register creates (or re-creates, in the EAB-changed case) this
// account on ep via newAccount, then records the returned account URL
// and current synchronisation hashes.
func (a *Account) Register(ctx context.Context, client *transport.Client, ep *endpoint.Endpoint) error {
	dir := ep.Directory()
	if dir == nil || dir.NewAccount == "" {
		return fmt.Errorf("%s: directory has no newAccount URL", ep.Name)
	}

	req := acmetypes.AccountRequest{
		Contact:              a.contactStrings(),
		TermsOfServiceAgreed: ep.TOSAgreed,
		OnlyReturnExisting:   false,
	}

	if a.ExternalAccount != nil {
		eabJWS, err := acmecrypto.EncodeKIDMAC(
			a.ExternalAccount.Key,
			a.ExternalAccount.Algorithm,
			a.ExternalAccount.Identifier,
			mustPublicJWK(a.CurrentKey.Pair),
			dir.NewAccount,
		)
		if err != nil {
			return err
		}
		eabBytes, err := json.Marshal(eabJWS)
		if err != nil {
			return err
		}
		req.ExternalAccountBinding = eabBytes
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := client.Post(ctx, ep, dir.NewAccount, endpoint.ResourceNewAccount, func(nonce, url string) ([]byte, error) {
		jws, err := acmecrypto.EncodeJWK(a.CurrentKey.Pair, a.CurrentKey.Algorithm, payload, url, nonce)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jws)
	})
	if err != nil {
		return err
	}

	var accResp acmetypes.AccountResponse
	if err := resp.JSON(&accResp); err != nil {
		return err
	}

	state, err := a.endpointState(ep.Name)
	if err != nil {
		return err
	}
	state.AccountURL = resp.Location()
	state.OrdersURL = accResp.Orders

	keyHash, err := hashKey(a.CurrentKey)
	if err != nil {
		return err
	}
	state.KeyHash = keyHash
	state.ContactsHash = hashContacts(a.Contacts)
	if a.ExternalAccount != nil {
		state.ExternalAccountHash = hashExternalAccount(a.ExternalAccount)
	}

	return a.Save(ctx)
}

// mustPublicJWK marshals a keypair's public JWK to bytes for use as a
// JWS payload (the EAB inner JWS signs over the new account's public
// key, per RFC 8555 §7.3.4).
func mustPublicJWK(kp *acmecrypto.KeyPair) []byte {
	jwk := kp.JWKPublicKey(kp.Type.DefaultSignatureAlgorithm())
	b, err := json.Marshal(jwk)
	if err != nil {
		panic(err)
	}
	return b
}

// updateContacts pushes the account's current contact list to ep via an
// account-update POST, then updates the stored contacts hash.
func (a *Account) updateContacts(ctx context.Context, client *transport.Client, ep *endpoint.Endpoint) error {
	state, err := a.endpointState(ep.Name)
	if err != nil {
		return err
	}
	if state.AccountURL == "" {
		return fmt.Errorf("%s: account has no URL on this endpoint yet", ep.Name)
	}

	req := acmetypes.AccountRequest{Contact: a.contactStrings()}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	_, err = client.Post(ctx, ep, state.AccountURL, endpoint.ResourceNewAccount, func(nonce, url string) ([]byte, error) {
		jws, err := acmecrypto.EncodeKID(a.CurrentKey.Pair, a.CurrentKey.Algorithm, state.AccountURL, payload, url, nonce)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jws)
	})
	if err != nil {
		return err
	}

	state.ContactsHash = hashContacts(a.Contacts)
	return a.Save(ctx)
}

// rollover performs an ACME key change (RFC 8555 §7.3.5): the inner JWS,
// signed by the new key, carries {account, oldKey} and is itself the
// payload of an outer JWS signed by the old key (the last entry of
// PastKeys); CurrentKey is already the new key.
func (a *Account) rollover(ctx context.Context, client *transport.Client, ep *endpoint.Endpoint) error {
	dir := ep.Directory()
	if dir == nil || dir.KeyChange == "" {
		return fmt.Errorf("%s: directory has no keyChange URL", ep.Name)
	}
	state, err := a.endpointState(ep.Name)
	if err != nil {
		return err
	}

	oldKey := a.PastKeys[len(a.PastKeys)-1]
	oldJWK := mustPublicJWK(oldKey.Pair)

	inner := acmetypes.KeyChangeRequest{Account: state.AccountURL, OldKey: oldJWK}
	innerPayload, err := json.Marshal(inner)
	if err != nil {
		return err
	}
	innerJWS, err := acmecrypto.EncodeJWK(a.CurrentKey.Pair, a.CurrentKey.Algorithm, innerPayload, dir.KeyChange, "")
	if err != nil {
		return err
	}
	outerPayload, err := json.Marshal(innerJWS)
	if err != nil {
		return err
	}

	_, err = client.Post(ctx, ep, dir.KeyChange, endpoint.ResourceKeyChange, func(nonce, url string) ([]byte, error) {
		jws, err := acmecrypto.EncodeKID(oldKey.Pair, oldKey.Algorithm, state.AccountURL, outerPayload, url, nonce)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jws)
	})
	if err != nil {
		return err
	}

	keyHash, err := hashKey(a.CurrentKey)
	if err != nil {
		return err
	}
	state.KeyHash = keyHash
	return a.Save(ctx)
}
