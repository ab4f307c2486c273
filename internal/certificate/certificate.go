// Package certificate implements the renewal decision, hook
// orchestration and full ACME order state machine that brings one
// configured certificate to a freshly issued state. Adapted from
// original_source/acmed/src/certificate.rs and acme_proto.rs's
// request_certificate, with wire-shape contributions from the teacher's
// acme/order.go.
package certificate

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acmed/acmed/internal/acmecrypto"
	"github.com/acmed/acmed/internal/hooks"
	"github.com/acmed/acmed/internal/identifier"
	"github.com/acmed/acmed/internal/storage"
)

// Certificate is one configured certificate: the identifiers it covers,
// the key material and CSR parameters to use, and the hooks fired
// around its lifecycle.
type Certificate struct {
	Name              string
	AccountName       string
	EndpointName      string
	Identifiers       []*identifier.Identifier
	SubjectAttributes map[acmecrypto.SubjectAttribute]string
	KeyType           acmecrypto.KeyType
	CSRDigest         acmecrypto.HashFunction
	KPReuse           bool
	Hooks             []*hooks.Hook
	Env               map[string]string
	RenewDelay        time.Duration
	RandomEarlyRenew  time.Duration
	FileManager       *storage.FileManager
}

// ID is the certificate's log-friendly identity: "name_keytype".
func (c *Certificate) ID() string {
	return fmt.Sprintf("%s_%s", c.Name, c.KeyType)
}

func (c *Certificate) String() string { return c.ID() }

// IdentifierList is a comma-separated list of this certificate's
// identifier values, for logging.
func (c *Certificate) IdentifierList() string {
	values := make([]string, len(c.Identifiers))
	for i, id := range c.Identifiers {
		values[i] = id.Value
	}
	return strings.Join(values, ",")
}

// identifierFromValue finds the configured Identifier matching an ACME
// identifier value, stripping a leading wildcard label from DNS names
// before comparing (a wildcard order's authorization identifier omits
// the "*." prefix).
func (c *Certificate) identifierFromValue(value string) (*identifier.Identifier, error) {
	for _, id := range c.Identifiers {
		candidate := id.Value
		if id.Kind == identifier.DNS {
			candidate = strings.TrimPrefix(candidate, "*.")
		}
		if candidate == value {
			return id, nil
		}
	}
	return nil, fmt.Errorf("%s: identifier not found", value)
}

// renewThreshold is RenewDelay widened by a random amount up to
// RandomEarlyRenew, so that a fleet of certificates sharing the same
// renew_delay don't all cross their renewal threshold, and so hit the
// CA, at the same instant.
func (c *Certificate) renewThreshold() time.Duration {
	if c.RandomEarlyRenew <= 0 {
		return c.RenewDelay
	}
	return c.RenewDelay + time.Duration(rand.Int63n(int64(c.RandomEarlyRenew)))
}

func (c *Certificate) isExpiring(cert *acmecrypto.Certificate, log *logrus.Entry) bool {
	expiresIn := cert.ExpiresIn()
	threshold := c.renewThreshold()
	log.WithFields(logrus.Fields{
		"expires_in_days": int(expiresIn.Hours() / 24),
		"renew_delay_days": int(threshold.Hours() / 24),
	}).Debug("checking certificate expiry")
	return expiresIn <= threshold
}

func (c *Certificate) hasMissingIdentifiers(cert *acmecrypto.Certificate, log *logrus.Entry) bool {
	have := cert.SubjectAltNames()
	var missing []string
	for _, id := range c.Identifiers {
		if _, ok := have[id.Value]; !ok {
			missing = append(missing, id.Value)
		}
	}
	if len(missing) > 0 {
		log.WithField("missing", strings.Join(missing, ", ")).Debug("certificate is missing identifiers")
		return true
	}
	return false
}

// ShouldRenew reports whether this certificate needs to be (re)issued:
// because no certificate exists yet, because it no longer covers every
// configured identifier, or because it is within its renewal window.
func (c *Certificate) ShouldRenew(log *logrus.Entry) (bool, error) {
	log = log.WithField("certificate", c.ID())
	log.WithField("identifiers", c.IdentifierList()).Debug("checking for renewal")

	if !c.FileManager.CertificateFilesExist() {
		log.Debug("certificate does not exist: requesting one")
		return true, nil
	}

	pemBytes, err := c.FileManager.GetCertificatePEM()
	if err != nil {
		return false, err
	}
	cert, err := acmecrypto.CertificateFromPEM(pemBytes)
	if err != nil {
		return false, err
	}

	renew := c.hasMissingIdentifiers(cert, log) || c.isExpiring(cert, log)
	if renew {
		log.Debug("the certificate will be renewed now")
	} else {
		log.Debug("the certificate will not be renewed now")
	}
	return renew, nil
}

// CallChallengeHooks fires the hook matching kind's challenge type,
// returning the hook data (needed again for the matching clean hook)
// and which hook type cleans it up. The TLS-ALPN name is always
// computed and included, even for non-TLS-ALPN challenges, since a
// single hook script may be registered for more than one challenge
// type; for an IP identifier it is the reverse-DNS in-addr.arpa/ip6.arpa
// name a tls-alpn-01 responder needs, which the raw Identifier cannot
// express.
func (c *Certificate) CallChallengeHooks(ctx context.Context, log *logrus.Entry, fileName, proof, identifierValue string) (hooks.ChallengeHookData, hooks.Type, error) {
	id, err := c.identifierFromValue(identifierValue)
	if err != nil {
		return hooks.ChallengeHookData{}, "", err
	}

	tlsALPNName, err := id.TLSALPNName()
	if err != nil {
		return hooks.ChallengeHookData{}, "", err
	}

	env := mergeEnv(c.Env, id.Env)
	data := hooks.ChallengeHookData{
		Identifier:        id.Value,
		IdentifierTLSALPN: tlsALPNName,
		Challenge:         id.Challenge.String(),
		Token:             fileName,
		Proof:             proof,
		IsCleanHook:       false,
		Env:               env,
	}

	hookType, cleanType := challengeHookTypes(id.Challenge)
	if err := hooks.Call(ctx, log, c.Hooks, hookType, data); err != nil {
		return hooks.ChallengeHookData{}, "", err
	}
	return data, cleanType, nil
}

// CallChallengeHooksClean fires the clean-up hook paired with a prior
// CallChallengeHooks call.
func (c *Certificate) CallChallengeHooksClean(ctx context.Context, log *logrus.Entry, data hooks.ChallengeHookData, cleanType hooks.Type) error {
	data.IsCleanHook = true
	return hooks.Call(ctx, log, c.Hooks, cleanType, data)
}

// CallPostOperationHooks fires the post-operation hook once an order
// reaches a terminal state. success carries the same outcome as status
// in machine-readable form, so a notification hook can branch without
// parsing the status string.
func (c *Certificate) CallPostOperationHooks(ctx context.Context, log *logrus.Entry, status string, success bool) error {
	ids := make([]string, len(c.Identifiers))
	for i, id := range c.Identifiers {
		ids[i] = id.Value
	}
	data := hooks.PostOperationHookData{
		Identifiers: ids,
		Algorithm:   c.KeyType.String(),
		Status:      status,
		Success:     success,
		Env:         mergeEnv(c.Env, nil),
	}
	return hooks.Call(ctx, log, c.Hooks, hooks.PostOperation, data)
}

func challengeHookTypes(kind identifier.ChallengeKind) (hooks.Type, hooks.Type) {
	switch kind {
	case identifier.HTTP01:
		return hooks.ChallengeHTTP01, hooks.ChallengeHTTP01Clean
	case identifier.DNS01:
		return hooks.ChallengeDNS01, hooks.ChallengeDNS01Clean
	case identifier.TLSALPN01:
		return hooks.ChallengeTLSALPN01, hooks.ChallengeTLSALPN01Clean
	default:
		return "", ""
	}
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
