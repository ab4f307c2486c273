package certificate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acmed/acmed/internal/account"
	"github.com/acmed/acmed/internal/acmecrypto"
	"github.com/acmed/acmed/internal/acmeerr"
	"github.com/acmed/acmed/internal/acmetypes"
	"github.com/acmed/acmed/internal/endpoint"
	"github.com/acmed/acmed/internal/identifier"
	"github.com/acmed/acmed/internal/transport"
)

// pollInterval is how long RequestCertificate waits between polling an
// order or authorization for a status change, grounded on
// certificate_manager.rs's DEFAULT_SLEEP_TIME retry idiom.
var pollInterval = 5 * time.Second

// pollTimeout bounds how long a single order or authorization poll loop
// may run before giving up: about 20 polls at the default pollInterval.
const pollTimeout = 100 * time.Second

// RequestCertificate drives one certificate through the full ACME order
// lifecycle: directory refresh, account synchronisation, order
// creation, per-authorization challenge completion, finalisation, and
// certificate download. Grounded on acme_proto.rs's request_certificate.
func RequestCertificate(ctx context.Context, log *logrus.Entry, cert *Certificate, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint) error {
	log = log.WithField("certificate", cert.ID())

	if err := refreshDirectory(ctx, client, ep); err != nil {
		return acmeerr.Wrap(acmeerr.Transport, cert.ID(), err)
	}
	if err := acct.Synchronise(ctx, client, ep); err != nil {
		return acmeerr.Wrap(acmeerr.Protocol, cert.ID(), err)
	}

	order, orderURL, err := createOrder(ctx, log, cert, acct, client, ep)
	if err != nil {
		return err
	}

	for _, authzURL := range order.Authorizations {
		if err := completeAuthorization(ctx, log, cert, acct, client, ep, authzURL); err != nil {
			return err
		}
	}

	order, err = pollOrder(ctx, acct, client, ep, orderURL, acmetypes.OrderReady)
	if err != nil {
		return err
	}

	keyPair, err := prepareKeyPair(ctx, cert)
	if err != nil {
		return err
	}

	var dnsNames, ips []string
	for _, id := range cert.Identifiers {
		if id.Kind == identifier.DNS {
			dnsNames = append(dnsNames, id.Value)
		} else {
			ips = append(ips, id.Value)
		}
	}
	csrDER, err := acmecrypto.CSR(keyPair, cert.CSRDigest, dnsNames, ips, cert.SubjectAttributes)
	if err != nil {
		return acmeerr.Wrap(acmeerr.Crypto, cert.ID(), err)
	}

	finalizeReq := struct {
		CSR string `json:"csr"`
	}{CSR: acmecrypto.CSRToBase64URL(csrDER)}
	finalizePayload, err := json.Marshal(finalizeReq)
	if err != nil {
		return err
	}

	if _, err := postKID(ctx, acct, client, ep, order.Finalize, endpoint.ResourceNewOrder, finalizePayload); err != nil {
		return acmeerr.Wrap(acmeerr.API, cert.ID(), err)
	}

	order, err = pollOrder(ctx, acct, client, ep, orderURL, acmetypes.OrderValid)
	if err != nil {
		return err
	}

	if order.Certificate == "" {
		return acmeerr.New(acmeerr.Protocol, cert.ID(), "no certificate available for download")
	}

	resp, err := postAsGet(ctx, acct, client, ep, order.Certificate, endpoint.ResourceNewOrder)
	if err != nil {
		return acmeerr.Wrap(acmeerr.Transport, cert.ID(), err)
	}
	if err := cert.FileManager.SetCertificatePEM(ctx, resp.Body); err != nil {
		return acmeerr.Wrap(acmeerr.Storage, cert.ID(), err)
	}

	log.WithField("identifiers", cert.IdentifierList()).Info("certificate renewed")
	return nil
}

func refreshDirectory(ctx context.Context, client *transport.Client, ep *endpoint.Endpoint) error {
	resp, err := client.Get(ctx, ep, ep.URL, endpoint.ResourceDirectory)
	if err != nil {
		return err
	}
	var dir acmetypes.Directory
	if err := resp.JSON(&dir); err != nil {
		return err
	}
	ep.SetDirectory(&dir)
	return nil
}

// postKID POSTs payload to url, signed by the account's current key
// using its URL on ep as the JWS key ID.
func postKID(ctx context.Context, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint, url string, resource endpoint.NamedResource, payload []byte) (*transport.Response, error) {
	kid, err := acct.AccountURL(ep.Name)
	if err != nil {
		return nil, err
	}
	keyPair, alg := acct.Key()
	return client.Post(ctx, ep, url, resource, func(nonce, signURL string) ([]byte, error) {
		jws, err := acmecrypto.EncodeKID(keyPair, alg, kid, payload, signURL, nonce)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jws)
	})
}

// postAsGet issues a POST-as-GET request (RFC 8555 §6.3): an empty-string
// payload signed with the account key, used to fetch orders,
// authorizations and certificates.
func postAsGet(ctx context.Context, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint, url string, resource endpoint.NamedResource) (*transport.Response, error) {
	return postKID(ctx, acct, client, ep, url, resource, []byte(""))
}

func createOrder(ctx context.Context, log *logrus.Entry, cert *Certificate, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint) (*acmetypes.Order, string, error) {
	ids := make([]acmetypes.WireIdentifier, len(cert.Identifiers))
	for i, id := range cert.Identifiers {
		typ := "dns"
		if id.Kind == identifier.IP {
			typ = "ip"
		}
		ids[i] = acmetypes.WireIdentifier{Type: typ, Value: id.Value}
	}
	payload, err := json.Marshal(acmetypes.NewOrderRequest{Identifiers: ids})
	if err != nil {
		return nil, "", err
	}

	dir := ep.Directory()
	if dir == nil || dir.NewOrder == "" {
		return nil, "", fmt.Errorf("%s: directory has no newOrder URL", ep.Name)
	}

	registeredOnce := false
	for {
		resp, err := postKID(ctx, acct, client, ep, dir.NewOrder, endpoint.ResourceNewOrder, payload)
		if err != nil {
			if !registeredOnce {
				if pt, ok := transport.ProblemType(err); ok && pt == acmeerr.AccountDoesNotExist {
					registeredOnce = true
					if regErr := acct.Register(ctx, client, ep); regErr != nil {
						return nil, "", regErr
					}
					continue
				}
			}
			return nil, "", err
		}

		var order acmetypes.Order
		if err := resp.JSON(&order); err != nil {
			return nil, "", err
		}
		if order.Error != nil {
			log.WithField("problem", order.Error.Detail).Warn("order carries an error")
		}
		return &order, resp.Location(), nil
	}
}

func completeAuthorization(ctx context.Context, log *logrus.Entry, cert *Certificate, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint, authzURL string) error {
	resp, err := postAsGet(ctx, acct, client, ep, authzURL, endpoint.ResourceNewOrder)
	if err != nil {
		return err
	}
	authz, err := acmetypes.UnmarshalAuthorization(resp.Body)
	if err != nil {
		return err
	}

	if authz.Status == acmetypes.AuthValid {
		return nil
	}
	if authz.Status != acmetypes.AuthPending {
		return acmeerr.New(acmeerr.Protocol, cert.ID(), fmt.Sprintf("%s: authorization status is %s", authz.Identifier.Value, authz.Status))
	}

	targetIdentifier, err := cert.identifierFromValue(authz.Identifier.Value)
	if err != nil {
		return err
	}

	keyPair, _ := acct.Key()

	var cleanups []func() error
	for _, ch := range authz.Challenges {
		kind, ok := identifier.ParseChallengeKind(ch.Type)
		if !ok || kind != targetIdentifier.Challenge {
			continue
		}

		proof, fileName, err := challengeProof(kind, ch.Token, keyPair)
		if err != nil {
			return err
		}

		data, cleanType, err := cert.CallChallengeHooks(ctx, log, fileName, proof, authz.Identifier.Value)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() error {
			return cert.CallChallengeHooksClean(ctx, log, data, cleanType)
		})

		if _, err := postKID(ctx, acct, client, ep, ch.URL, endpoint.ResourceNewAuthz, []byte("{}")); err != nil {
			return err
		}
	}

	_, pollErr := pollAuthorization(ctx, acct, client, ep, authzURL)

	for _, clean := range cleanups {
		if err := clean(); err != nil {
			log.WithError(err).Warn("challenge clean-up hook failed")
		}
	}

	return pollErr
}

func pollAuthorization(ctx context.Context, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint, authzURL string) (*acmetypes.Authorization, error) {
	deadline := time.Now().Add(pollTimeout)
	for {
		resp, err := postAsGet(ctx, acct, client, ep, authzURL, endpoint.ResourceNewAuthz)
		if err != nil {
			return nil, err
		}
		authz, err := acmetypes.UnmarshalAuthorization(resp.Body)
		if err != nil {
			return nil, err
		}
		if authz.Status == acmetypes.AuthValid || authz.Status == acmetypes.AuthInvalid {
			return authz, nil
		}
		if time.Now().After(deadline) {
			return authz, fmt.Errorf("%s: timed out waiting for authorization", authzURL)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func pollOrder(ctx context.Context, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint, orderURL string, want acmetypes.OrderStatus) (*acmetypes.Order, error) {
	deadline := time.Now().Add(pollTimeout)
	for {
		resp, err := postAsGet(ctx, acct, client, ep, orderURL, endpoint.ResourceNewOrder)
		if err != nil {
			return nil, err
		}
		var order acmetypes.Order
		if err := resp.JSON(&order); err != nil {
			return nil, err
		}
		order.URL = orderURL
		if order.Status == want || order.Status == acmetypes.OrderInvalid {
			return &order, nil
		}
		if time.Now().After(deadline) {
			return &order, fmt.Errorf("%s: timed out waiting for order status %s", orderURL, want)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func prepareKeyPair(ctx context.Context, cert *Certificate) (*acmecrypto.KeyPair, error) {
	if cert.KPReuse && cert.FileManager.CertificateFilesExist() {
		if pemBytes, err := cert.FileManager.GetKeyPairPEM(); err == nil {
			if kp, err := acmecrypto.FromPEM(pemBytes); err == nil && kp.Type == cert.KeyType {
				return kp, nil
			}
		}
	}

	kp, err := acmecrypto.GenerateKeyPair(cert.KeyType)
	if err != nil {
		return nil, err
	}
	pemBytes, err := kp.ToPEM()
	if err != nil {
		return nil, err
	}
	if err := cert.FileManager.SetKeyPairPEM(ctx, pemBytes); err != nil {
		return nil, err
	}
	return kp, nil
}
