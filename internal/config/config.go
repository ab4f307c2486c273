// Package config loads and resolves acmed's TOML configuration into the
// runtime types the rest of the daemon operates on: endpoints, accounts,
// certificates and hooks. Adapted from original_source/acmed/src/config.rs.
package config

import (
	"fmt"
	"time"
)

// Default values applied when a setting is not configured, mirroring the
// DEFAULT_* constants in original_source/acmed/src/main.rs.
const (
	DefaultAccountsDir      = "/etc/acmed/accounts"
	DefaultCertDir          = "/etc/acmed/certs"
	DefaultCertNameFormat   = "{{.Name}}_{{.KeyType}}.{{.FileType}}.{{.Ext}}"
	DefaultCertFileMode     = 0o644
	DefaultPKFileMode       = 0o600
	DefaultCertFileExt      = "pem"
	DefaultPKFileExt        = "pem"
	DefaultAccountFileMode  = 0o600
	DefaultKeyPairReuse     = false
	DefaultCertRenewDelay   = 21 * 24 * time.Hour // 3 weeks
	DefaultRandomEarlyRenew = 0 * time.Second
	DefaultHookAllowFailure = false
	DefaultAccountKeyType   = "ecdsa-p256"
	DefaultCertKeyType      = "ecdsa-p256"
	DefaultCSRDigest        = "sha256"
	// DefaultExternalAccountHash is the digest used for the EAB HMAC when
	// signature_algorithm is left unset (see DESIGN.md's Open Question
	// decision: EAB signing is carried as a HashFunction, not a full JWA).
	DefaultExternalAccountHash = "sha256"
)

// Config is the root of one parsed (and include-merged) TOML document.
type Config struct {
	Global      *GlobalOptions     `toml:"global"`
	Endpoints   []EndpointConfig   `toml:"endpoint"`
	RateLimits  []RateLimitConfig  `toml:"rate-limit"`
	Hooks       []HookConfig       `toml:"hook"`
	Groups      []GroupConfig      `toml:"group"`
	Accounts    []AccountConfig    `toml:"account"`
	Certificates []CertificateConfig `toml:"certificate"`
	Include     []string           `toml:"include"`
}

// GlobalOptions holds the defaults applied across every endpoint and
// certificate unless overridden locally.
type GlobalOptions struct {
	AccountsDirectory     *string           `toml:"accounts_directory"`
	CertificatesDirectory *string           `toml:"certificates_directory"`
	CertFileMode          *uint32           `toml:"cert_file_mode"`
	CertFileUser          *string           `toml:"cert_file_user"`
	CertFileGroup         *string           `toml:"cert_file_group"`
	CertFileExt           *string           `toml:"cert_file_ext"`
	PKFileMode            *uint32           `toml:"pk_file_mode"`
	PKFileUser            *string           `toml:"pk_file_user"`
	PKFileGroup           *string           `toml:"pk_file_group"`
	PKFileExt             *string           `toml:"pk_file_ext"`
	FileNameFormat        *string           `toml:"file_name_format"`
	RenewDelay            *string           `toml:"renew_delay"`
	RandomEarlyRenew      *string           `toml:"random_early_renew"`
	RootCertificates      []string          `toml:"root_certificates"`
	Env                   map[string]string `toml:"env"`
}

// EndpointConfig is one configured ACME server.
type EndpointConfig struct {
	Name             string   `toml:"name"`
	URL              string   `toml:"url"`
	TOSAgreed        bool     `toml:"tos_agreed"`
	RateLimitNames   []string `toml:"rate_limits"`
	RootCertificates []string `toml:"root_certificates"`
	FileNameFormat   *string  `toml:"file_name_format"`
	RenewDelay       *string  `toml:"renew_delay"`
	RandomEarlyRenew *string  `toml:"random_early_renew"`
}

// RateLimitConfig is one named rate limit, matched to requests either by
// ACME resource name or by URL path regexp.
type RateLimitConfig struct {
	Name          string   `toml:"name"`
	Number        uint32   `toml:"number"`
	Period        string   `toml:"period"`
	ACMEResources []string `toml:"acme_resources"`
	Path          *string  `toml:"path"`
}

// HookConfig is one named external command, runnable at one or more
// lifecycle points.
type HookConfig struct {
	Name         string   `toml:"name"`
	Types        []string `toml:"type"`
	Cmd          string   `toml:"cmd"`
	Args         []string `toml:"args"`
	Stdin        *string  `toml:"stdin"`
	StdinStr     *string  `toml:"stdin_str"`
	Stdout       *string  `toml:"stdout"`
	Stderr       *string  `toml:"stderr"`
	AllowFailure *bool    `toml:"allow_failure"`
}

// GroupConfig aggregates named hooks under a single name, so a
// certificate can reference "group" instead of listing every hook.
type GroupConfig struct {
	Name  string   `toml:"name"`
	Hooks []string `toml:"hooks"`
}

// AccountConfig is one configured ACME account.
type AccountConfig struct {
	Name               string                  `toml:"name"`
	Contacts           []AccountContactConfig  `toml:"contacts"`
	Env                map[string]string       `toml:"env"`
	ExternalAccount    *ExternalAccountConfig  `toml:"external_account"`
	Hooks              []string                `toml:"hooks"`
	KeyType            *string                 `toml:"key_type"`
	SignatureAlgorithm *string                 `toml:"signature_algorithm"`
}

// AccountContactConfig is one account contact entry. Only mailto is
// implemented, matching the teacher's and the original's sole contact
// scheme in practice.
type AccountContactConfig struct {
	Mailto string `toml:"mailto"`
}

// ExternalAccountConfig carries out-of-band External Account Binding
// credentials.
type ExternalAccountConfig struct {
	Identifier         string  `toml:"identifier"`
	Key                string  `toml:"key"`
	SignatureAlgorithm *string `toml:"signature_algorithm"`
}

// CertificateConfig is one configured certificate to obtain and keep
// renewed.
type CertificateConfig struct {
	Account           string                    `toml:"account"`
	Endpoint          string                    `toml:"endpoint"`
	Name              *string                   `toml:"name"`
	Directory         *string                   `toml:"directory"`
	FileNameFormat    *string                   `toml:"file_name_format"`
	CSRDigest         *string                   `toml:"csr_digest"`
	KeyType           *string                   `toml:"key_type"`
	KPReuse           *bool                     `toml:"kp_reuse"`
	RenewDelay        *string                   `toml:"renew_delay"`
	RandomEarlyRenew  *string                   `toml:"random_early_renew"`
	Env               map[string]string         `toml:"env"`
	Hooks             []string                  `toml:"hooks"`
	Identifiers       []IdentifierConfig        `toml:"identifiers"`
	SubjectAttributes SubjectAttributesConfig   `toml:"subject_attributes"`
}

// IdentifierConfig is one identifier a certificate covers: exactly one of
// DNS or IP must be set.
type IdentifierConfig struct {
	Challenge string            `toml:"challenge"`
	DNS       *string           `toml:"dns"`
	IP        *string           `toml:"ip"`
	Env       map[string]string `toml:"env"`
}

func (ic IdentifierConfig) validate() error {
	filled := 0
	if ic.DNS != nil {
		filled++
	}
	if ic.IP != nil {
		filled++
	}
	if filled != 1 {
		return fmt.Errorf("identifier: exactly one of dns or ip must be specified")
	}
	return nil
}

// SubjectAttributesConfig carries the optional x509 subject fields a CSR
// may request.
type SubjectAttributesConfig struct {
	CountryName            *string `toml:"country_name"`
	OrganizationName       *string `toml:"organization_name"`
	OrganizationalUnitName *string `toml:"organizational_unit_name"`
	LocalityName           *string `toml:"locality_name"`
	StateOrProvinceName    *string `toml:"state_or_province_name"`
}
