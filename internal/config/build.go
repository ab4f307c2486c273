package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acmed/acmed/internal/account"
	"github.com/acmed/acmed/internal/acmecrypto"
	"github.com/acmed/acmed/internal/certificate"
	"github.com/acmed/acmed/internal/duration"
	"github.com/acmed/acmed/internal/endpoint"
	"github.com/acmed/acmed/internal/hooks"
	"github.com/acmed/acmed/internal/identifier"
	"github.com/acmed/acmed/internal/storage"
)

func (c *Config) accountsDirectory() string {
	if c.Global != nil && c.Global.AccountsDirectory != nil {
		return *c.Global.AccountsDirectory
	}
	return DefaultAccountsDir
}

func (c *Config) certificatesDirectory() string {
	if c.Global != nil && c.Global.CertificatesDirectory != nil {
		return *c.Global.CertificatesDirectory
	}
	return DefaultCertDir
}

func (c *Config) certFileMode() os.FileMode {
	if c.Global != nil && c.Global.CertFileMode != nil {
		return os.FileMode(*c.Global.CertFileMode)
	}
	return DefaultCertFileMode
}

func (c *Config) pkFileMode() os.FileMode {
	if c.Global != nil && c.Global.PKFileMode != nil {
		return os.FileMode(*c.Global.PKFileMode)
	}
	return DefaultPKFileMode
}

func (c *Config) certFileOwner() string {
	if c.Global != nil && c.Global.CertFileUser != nil {
		return *c.Global.CertFileUser
	}
	return ""
}

func (c *Config) certFileGroup() string {
	if c.Global != nil && c.Global.CertFileGroup != nil {
		return *c.Global.CertFileGroup
	}
	return ""
}

func (c *Config) pkFileOwner() string {
	if c.Global != nil && c.Global.PKFileUser != nil {
		return *c.Global.PKFileUser
	}
	return ""
}

func (c *Config) pkFileGroup() string {
	if c.Global != nil && c.Global.PKFileGroup != nil {
		return *c.Global.PKFileGroup
	}
	return ""
}

func (c *Config) certFileExt() string {
	if c.Global != nil && c.Global.CertFileExt != nil {
		return *c.Global.CertFileExt
	}
	return DefaultCertFileExt
}

func (c *Config) pkFileExt() string {
	if c.Global != nil && c.Global.PKFileExt != nil {
		return *c.Global.PKFileExt
	}
	return DefaultPKFileExt
}

func (c *Config) crtNameFormat() string {
	if c.Global != nil && c.Global.FileNameFormat != nil {
		return *c.Global.FileNameFormat
	}
	return DefaultCertNameFormat
}

func (c *Config) globalRootCertificates() []string {
	if c.Global != nil {
		return c.Global.RootCertificates
	}
	return nil
}

// InitDirectories ensures the accounts directory and every configured
// certificate's directory exist, mirroring config.rs's init_directories.
func (c *Config) InitDirectories() error {
	if err := os.MkdirAll(c.accountsDirectory(), 0o755); err != nil {
		return fmt.Errorf("%s: %w", c.accountsDirectory(), err)
	}
	seen := map[string]bool{}
	for _, cc := range c.Certificates {
		dir := c.certificatesDirectory()
		if cc.Directory != nil {
			dir = *cc.Directory
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
	}
	return nil
}

// GetHook resolves a configured hook or group name into the (possibly
// multi-element, for a group) list of runtime hooks, matching
// config.rs's Config::get_hook.
func (c *Config) GetHook(name string) ([]*hooks.Hook, error) {
	for _, h := range c.Hooks {
		if h.Name == name {
			rt, err := h.toRuntime()
			if err != nil {
				return nil, err
			}
			return []*hooks.Hook{rt}, nil
		}
	}
	for _, g := range c.Groups {
		if g.Name == name {
			var ret []*hooks.Hook
			for _, memberName := range g.Hooks {
				members, err := c.GetHook(memberName)
				if err != nil {
					return nil, err
				}
				ret = append(ret, members...)
			}
			return ret, nil
		}
	}
	return nil, fmt.Errorf("%s: hook not found", name)
}

func (c *Config) getHooks(names []string) ([]*hooks.Hook, error) {
	var ret []*hooks.Hook
	for _, name := range names {
		h, err := c.GetHook(name)
		if err != nil {
			return nil, err
		}
		ret = append(ret, h...)
	}
	return ret, nil
}

func (h *HookConfig) toRuntime() (*hooks.Hook, error) {
	if h.Stdin != nil && h.StdinStr != nil {
		return nil, fmt.Errorf("%s: a hook cannot have both stdin and stdin_str", h.Name)
	}

	types := make([]hooks.Type, 0, len(h.Types))
	for _, t := range h.Types {
		parsed, ok := parseHookType(t)
		if !ok {
			return nil, fmt.Errorf("%s: unknown hook type %q", h.Name, t)
		}
		types = append(types, parsed)
	}

	allowFailure := DefaultHookAllowFailure
	if h.AllowFailure != nil {
		allowFailure = *h.AllowFailure
	}

	stdin := ""
	if h.StdinStr != nil {
		stdin = *h.StdinStr
	}
	// A file-based stdin is read once at config-load time: hooks.Hook's
	// Stdin field is a single rendered-template string, so there is no
	// separate "read this file on every invocation" path to preserve.
	if h.Stdin != nil {
		data, err := os.ReadFile(*h.Stdin)
		if err != nil {
			return nil, fmt.Errorf("%s: reading stdin file: %w", h.Name, err)
		}
		stdin = string(data)
	}

	stdout, stderr := "", ""
	if h.Stdout != nil {
		stdout = *h.Stdout
	}
	if h.Stderr != nil {
		stderr = *h.Stderr
	}

	return &hooks.Hook{
		Name:         h.Name,
		Types:        types,
		Cmd:          h.Cmd,
		Args:         h.Args,
		Stdin:        stdin,
		Stdout:       stdout,
		Stderr:       stderr,
		AllowFailure: allowFailure,
	}, nil
}

func parseHookType(s string) (hooks.Type, bool) {
	switch s {
	case "file-pre-create":
		return hooks.FilePreCreate, true
	case "file-post-create":
		return hooks.FilePostCreate, true
	case "file-pre-edit":
		return hooks.FilePreEdit, true
	case "file-post-edit":
		return hooks.FilePostEdit, true
	case "challenge-http-01":
		return hooks.ChallengeHTTP01, true
	case "challenge-http-01-clean":
		return hooks.ChallengeHTTP01Clean, true
	case "challenge-dns-01":
		return hooks.ChallengeDNS01, true
	case "challenge-dns-01-clean":
		return hooks.ChallengeDNS01Clean, true
	case "challenge-tls-alpn-01":
		return hooks.ChallengeTLSALPN01, true
	case "challenge-tls-alpn-01-clean":
		return hooks.ChallengeTLSALPN01Clean, true
	case "post-operation":
		return hooks.PostOperation, true
	default:
		return "", false
	}
}

// BuildEndpoints resolves every configured endpoint into a runtime
// endpoint.Endpoint, keyed by name.
func (c *Config) BuildEndpoints() (map[string]*endpoint.Endpoint, error) {
	rateLimitsByName := make(map[string]RateLimitConfig, len(c.RateLimits))
	for _, rl := range c.RateLimits {
		rateLimitsByName[rl.Name] = rl
	}

	result := make(map[string]*endpoint.Endpoint, len(c.Endpoints))
	for _, ec := range c.Endpoints {
		var limits []endpoint.RateLimitConfig
		for _, rlName := range ec.RateLimitNames {
			rl, ok := rateLimitsByName[rlName]
			if !ok {
				return nil, fmt.Errorf("%s: rate limit not found", rlName)
			}
			resources := make([]endpoint.NamedResource, 0, len(rl.ACMEResources))
			for _, r := range rl.ACMEResources {
				resources = append(resources, endpoint.NamedResource(lowerFirst(r)))
			}
			path := ""
			if rl.Path != nil {
				path = *rl.Path
			}
			limits = append(limits, endpoint.RateLimitConfig{
				Name:      rl.Name,
				Number:    rl.Number,
				Period:    rl.Period,
				Resources: resources,
				Path:      path,
			})
		}

		roots := append([]string{}, c.globalRootCertificates()...)
		roots = append(roots, ec.RootCertificates...)

		ep, err := endpoint.New(ec.Name, ec.URL, ec.TOSAgreed, limits, roots)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ec.Name, err)
		}
		result[ec.Name] = ep
	}
	return result, nil
}

// lowerFirst lower-cases a named ACME resource's first rune, since the
// TOML spelling matches the ACME resource's camelCase wire name
// ("newAccount"), guarding against a capitalised TOML value
// ("NewAccount"); the remaining letters are kept as written.
func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// BuildAccounts loads (or creates) every configured account and registers
// every endpoint name against it, so Synchronise has per-endpoint state
// to work with the first time it runs.
func (c *Config) BuildAccounts(log *logrus.Entry, endpoints map[string]*endpoint.Endpoint) (map[string]*account.Account, error) {
	result := make(map[string]*account.Account, len(c.Accounts))
	for _, ac := range c.Accounts {
		fm := &storage.FileManager{
			Log:              log.WithField("account", ac.Name),
			AccountName:      ac.Name,
			AccountDirectory: c.accountsDirectory(),
		}

		keyTypeName := DefaultAccountKeyType
		if ac.KeyType != nil {
			keyTypeName = *ac.KeyType
		}
		kt, err := acmecrypto.ParseKeyType(keyTypeName)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", ac.Name, err)
		}
		alg := kt.DefaultSignatureAlgorithm()
		if ac.SignatureAlgorithm != nil {
			alg, err = acmecrypto.ParseSignatureAlgorithm(*ac.SignatureAlgorithm)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", ac.Name, err)
			}
		}

		contacts := make([]account.Contact, 0, len(ac.Contacts))
		for _, contact := range ac.Contacts {
			contacts = append(contacts, account.Contact{Type: account.MailFrom, Value: contact.Mailto})
		}

		var eab *account.ExternalAccount
		if ac.ExternalAccount != nil {
			eab, err = ac.ExternalAccount.toRuntime()
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", ac.Name, err)
			}
		}

		acct, err := account.Load(fm, ac.Name, contacts, kt, alg, eab)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", ac.Name, err)
		}
		for epName := range endpoints {
			acct.AddEndpointName(epName)
		}
		result[ac.Name] = acct
	}
	return result, nil
}

func (ea *ExternalAccountConfig) toRuntime() (*account.ExternalAccount, error) {
	key, err := decodeB64(ea.Key)
	if err != nil {
		return nil, fmt.Errorf("external_account: %w", err)
	}
	hashName := DefaultExternalAccountHash
	if ea.SignatureAlgorithm != nil {
		hashName = *ea.SignatureAlgorithm
	}
	h, err := acmecrypto.ParseHashFunction(hashName)
	if err != nil {
		return nil, fmt.Errorf("external_account: %w", err)
	}
	return &account.ExternalAccount{Identifier: ea.Identifier, Key: key, Algorithm: h}, nil
}

// decodeB64 decodes an EAB key. CAs typically hand these out as standard
// (padded) base64, unlike the unpadded base64url used internally for JWS
// framing, but unpadded url-safe values are accepted too since some CAs
// issue EAB keys that way.
func decodeB64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// BuildCertificates resolves every configured certificate into a runtime
// certificate.Certificate, ready to be driven by RequestCertificate.
func (c *Config) BuildCertificates(log *logrus.Entry, accounts map[string]*account.Account) ([]*certificate.Certificate, error) {
	endpointsByName := make(map[string]EndpointConfig, len(c.Endpoints))
	for _, ec := range c.Endpoints {
		endpointsByName[ec.Name] = ec
	}

	result := make([]*certificate.Certificate, 0, len(c.Certificates))
	for _, cc := range c.Certificates {
		if _, ok := accounts[cc.Account]; !ok {
			return nil, fmt.Errorf("%s: unknown account", cc.Account)
		}
		ec, ok := endpointsByName[cc.Endpoint]
		if !ok {
			return nil, fmt.Errorf("%s: unknown endpoint", cc.Endpoint)
		}

		ids := make([]*identifier.Identifier, 0, len(cc.Identifiers))
		for _, idc := range cc.Identifiers {
			kind := identifier.DNS
			value := ""
			if idc.DNS != nil {
				value = *idc.DNS
			} else if idc.IP != nil {
				kind = identifier.IP
				value = *idc.IP
			}
			id, err := identifier.New(kind, value, idc.Challenge, idc.Env)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}

		name, err := cc.crtName()
		if err != nil {
			return nil, err
		}

		keyTypeName := DefaultCertKeyType
		if cc.KeyType != nil {
			keyTypeName = *cc.KeyType
		}
		kt, err := acmecrypto.ParseKeyType(keyTypeName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		digestName := DefaultCSRDigest
		if cc.CSRDigest != nil {
			digestName = *cc.CSRDigest
		}
		digest, err := acmecrypto.ParseHashFunction(digestName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		kpReuse := DefaultKeyPairReuse
		if cc.KPReuse != nil {
			kpReuse = *cc.KPReuse
		}

		renewDelay, err := resolveDuration(DefaultCertRenewDelay, cc.RenewDelay, ec.RenewDelay, c.globalRenewDelay())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		randomEarlyRenew, err := resolveDuration(DefaultRandomEarlyRenew, cc.RandomEarlyRenew, ec.RandomEarlyRenew, c.globalRandomEarlyRenew())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		nameFormat := cc.crtNameFormat(ec, c)

		certDir := c.certificatesDirectory()
		if cc.Directory != nil {
			certDir = *cc.Directory
		}

		hookList, err := c.getHooks(cc.Hooks)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		fm := &storage.FileManager{
			Log:            log.WithField("certificate", name),
			CertName:       name,
			CertNameFormat: nameFormat,
			CertDirectory:  certDir,
			CertKeyType:    kt.String(),
			CertFileMode:   c.certFileMode(),
			CertFileOwner:  c.certFileOwner(),
			CertFileGroup:  c.certFileGroup(),
			CertFileExt:    c.certFileExt(),
			PKFileMode:     c.pkFileMode(),
			PKFileOwner:    c.pkFileOwner(),
			PKFileGroup:    c.pkFileGroup(),
			PKFileExt:      c.pkFileExt(),
			Hooks:          hookList,
			Env:            cc.Env,
		}

		result = append(result, &certificate.Certificate{
			Name:              name,
			AccountName:       cc.Account,
			EndpointName:      cc.Endpoint,
			Identifiers:       ids,
			SubjectAttributes: cc.SubjectAttributes.toRuntime(),
			KeyType:           kt,
			CSRDigest:         digest,
			KPReuse:           kpReuse,
			Hooks:             hookList,
			Env:               cc.Env,
			RenewDelay:        renewDelay,
			RandomEarlyRenew:  randomEarlyRenew,
			FileManager:       fm,
		})
	}
	return result, nil
}

func (sa SubjectAttributesConfig) toRuntime() map[acmecrypto.SubjectAttribute]string {
	m := map[acmecrypto.SubjectAttribute]string{}
	if sa.CountryName != nil {
		m[acmecrypto.SubjectCountry] = *sa.CountryName
	}
	if sa.OrganizationName != nil {
		m[acmecrypto.SubjectOrganization] = *sa.OrganizationName
	}
	if sa.OrganizationalUnitName != nil {
		m[acmecrypto.SubjectOrganizationalUnit] = *sa.OrganizationalUnitName
	}
	if sa.LocalityName != nil {
		m[acmecrypto.SubjectLocality] = *sa.LocalityName
	}
	if sa.StateOrProvinceName != nil {
		m[acmecrypto.SubjectState] = *sa.StateOrProvinceName
	}
	return m
}

func (cc *CertificateConfig) crtName() (string, error) {
	if cc.Name != nil {
		return sanitizeName(*cc.Name), nil
	}
	if len(cc.Identifiers) == 0 {
		return "", fmt.Errorf("certificate has no identifiers")
	}
	first := cc.Identifiers[0]
	if first.DNS != nil {
		return sanitizeName(*first.DNS), nil
	}
	if first.IP != nil {
		return sanitizeName(*first.IP), nil
	}
	return "", fmt.Errorf("certificate has no identifiers")
}

// sanitizeName replaces characters that cannot appear in a file name but
// can appear in an identifier value, mirroring config.rs's get_crt_name.
func sanitizeName(name string) string {
	r := strings.NewReplacer("*", "_", ":", "_", "/", "_")
	return r.Replace(name)
}

func (cc *CertificateConfig) crtNameFormat(ec EndpointConfig, c *Config) string {
	if cc.FileNameFormat != nil {
		return *cc.FileNameFormat
	}
	if ec.FileNameFormat != nil {
		return *ec.FileNameFormat
	}
	return c.crtNameFormat()
}

func (c *Config) globalRenewDelay() *string {
	if c.Global == nil {
		return nil
	}
	return c.Global.RenewDelay
}

func (c *Config) globalRandomEarlyRenew() *string {
	if c.Global == nil {
		return nil
	}
	return c.Global.RandomEarlyRenew
}

// resolveDuration applies the certificate -> endpoint -> global ->
// built-in default fallback chain used throughout config.rs for
// renew_delay and random_early_renew.
func resolveDuration(fallback time.Duration, vals ...*string) (time.Duration, error) {
	for _, v := range vals {
		if v != nil {
			return duration.Parse(*v)
		}
	}
	return fallback, nil
}
