package config

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/acmed/acmed/internal/acmecrypto"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return logrus.NewEntry(l)
}

func strPtr(s string) *string { return &s }

func TestBuildEndpointsResolvesRateLimits(t *testing.T) {
	cfg := &Config{
		RateLimits: []RateLimitConfig{
			{Name: "default", Number: 20, Period: "1s", ACMEResources: []string{"newOrder"}},
		},
		Endpoints: []EndpointConfig{
			{Name: "letsencrypt", URL: "https://acme.example.org/directory", TOSAgreed: true, RateLimitNames: []string{"default"}},
		},
	}

	endpoints, err := cfg.BuildEndpoints()
	require.NoError(t, err)
	require.Contains(t, endpoints, "letsencrypt")
	require.Equal(t, "https://acme.example.org/directory", endpoints["letsencrypt"].URL)
}

func TestBuildEndpointsUnknownRateLimitErrors(t *testing.T) {
	cfg := &Config{
		Endpoints: []EndpointConfig{
			{Name: "letsencrypt", URL: "https://acme.example.org/directory", RateLimitNames: []string{"missing"}},
		},
	}
	_, err := cfg.BuildEndpoints()
	require.Error(t, err)
}

func TestBuildAccountsRegistersEveryEndpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Global: &GlobalOptions{AccountsDirectory: strPtr(dir)},
		Accounts: []AccountConfig{
			{Name: "admin", Contacts: []AccountContactConfig{{Mailto: "admin@example.org"}}},
		},
	}
	cfg.Endpoints = []EndpointConfig{{Name: "letsencrypt", URL: "https://acme.example.org/directory"}}
	endpoints, err := cfg.BuildEndpoints()
	require.NoError(t, err)

	accounts, err := cfg.BuildAccounts(testLogger(), endpoints)
	require.NoError(t, err)
	require.Contains(t, accounts, "admin")
	require.Contains(t, accounts["admin"].Endpoints, "letsencrypt")
	require.Equal(t, acmecrypto.EcdsaP256, accounts["admin"].CurrentKey.Pair.Type)
}

func TestBuildCertificatesAppliesFallbackChain(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Global: &GlobalOptions{
			AccountsDirectory:     strPtr(dir),
			CertificatesDirectory: strPtr(dir),
			RenewDelay:            strPtr("10d"),
		},
		Endpoints: []EndpointConfig{
			{Name: "letsencrypt", URL: "https://acme.example.org/directory"},
		},
		Accounts: []AccountConfig{
			{Name: "admin"},
		},
		Certificates: []CertificateConfig{
			{
				Account:  "admin",
				Endpoint: "letsencrypt",
				Identifiers: []IdentifierConfig{
					{DNS: strPtr("example.org"), Challenge: "http-01"},
				},
			},
		},
	}

	endpoints, err := cfg.BuildEndpoints()
	require.NoError(t, err)
	accounts, err := cfg.BuildAccounts(testLogger(), endpoints)
	require.NoError(t, err)

	certs, err := cfg.BuildCertificates(testLogger(), accounts)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	require.Equal(t, "example.org", certs[0].Name)
	require.Equal(t, 10*24*60*60*1e9, float64(certs[0].RenewDelay))
}

func TestBuildCertificatesAppliesGlobalFileExtensions(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Global: &GlobalOptions{
			AccountsDirectory:     strPtr(dir),
			CertificatesDirectory: strPtr(dir),
			CertFileExt:           strPtr("crt"),
			PKFileExt:             strPtr("key"),
		},
		Endpoints: []EndpointConfig{
			{Name: "letsencrypt", URL: "https://acme.example.org/directory"},
		},
		Accounts: []AccountConfig{{Name: "admin"}},
		Certificates: []CertificateConfig{
			{
				Account:  "admin",
				Endpoint: "letsencrypt",
				Identifiers: []IdentifierConfig{
					{DNS: strPtr("example.org"), Challenge: "http-01"},
				},
			},
		},
	}

	endpoints, err := cfg.BuildEndpoints()
	require.NoError(t, err)
	accounts, err := cfg.BuildAccounts(testLogger(), endpoints)
	require.NoError(t, err)
	certs, err := cfg.BuildCertificates(testLogger(), accounts)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	require.Equal(t, "crt", certs[0].FileManager.CertFileExt)
	require.Equal(t, "key", certs[0].FileManager.PKFileExt)
}

func TestBuildCertificatesDefaultsFileExtensionsToPem(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Global: &GlobalOptions{AccountsDirectory: strPtr(dir), CertificatesDirectory: strPtr(dir)},
		Endpoints: []EndpointConfig{
			{Name: "letsencrypt", URL: "https://acme.example.org/directory"},
		},
		Accounts: []AccountConfig{{Name: "admin"}},
		Certificates: []CertificateConfig{
			{
				Account:  "admin",
				Endpoint: "letsencrypt",
				Identifiers: []IdentifierConfig{
					{DNS: strPtr("example.org"), Challenge: "http-01"},
				},
			},
		},
	}

	endpoints, err := cfg.BuildEndpoints()
	require.NoError(t, err)
	accounts, err := cfg.BuildAccounts(testLogger(), endpoints)
	require.NoError(t, err)
	certs, err := cfg.BuildCertificates(testLogger(), accounts)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	require.Equal(t, DefaultCertFileExt, certs[0].FileManager.CertFileExt)
	require.Equal(t, DefaultPKFileExt, certs[0].FileManager.PKFileExt)
}

func TestBuildCertificatesSanitizesName(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Global: &GlobalOptions{AccountsDirectory: strPtr(dir), CertificatesDirectory: strPtr(dir)},
		Endpoints: []EndpointConfig{
			{Name: "letsencrypt", URL: "https://acme.example.org/directory"},
		},
		Accounts: []AccountConfig{{Name: "admin"}},
		Certificates: []CertificateConfig{
			{
				Account:  "admin",
				Endpoint: "letsencrypt",
				Name:     strPtr("wild:card/name*here"),
				Identifiers: []IdentifierConfig{
					{DNS: strPtr("example.org"), Challenge: "dns-01"},
				},
			},
		},
	}
	endpoints, err := cfg.BuildEndpoints()
	require.NoError(t, err)
	accounts, err := cfg.BuildAccounts(testLogger(), endpoints)
	require.NoError(t, err)

	certs, err := cfg.BuildCertificates(testLogger(), accounts)
	require.NoError(t, err)
	require.Equal(t, "wild_card_name_here", certs[0].Name)
}

func TestGetHookResolvesGroupRecursively(t *testing.T) {
	cfg := &Config{
		Hooks: []HookConfig{
			{Name: "a", Cmd: "/bin/true", Types: []string{"post-operation"}},
			{Name: "b", Cmd: "/bin/true", Types: []string{"post-operation"}},
		},
		Groups: []GroupConfig{
			{Name: "both", Hooks: []string{"a", "b"}},
		},
	}
	resolved, err := cfg.GetHook("both")
	require.NoError(t, err)
	require.Len(t, resolved, 2)
}

func TestExternalAccountKeyDecoding(t *testing.T) {
	ea := &ExternalAccountConfig{Identifier: "kid-1", Key: "aGVsbG8="}
	rt, err := ea.toRuntime()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), rt.Key)
}

func TestInitDirectoriesCreatesDistinctDirs(t *testing.T) {
	base := t.TempDir()
	certDirA := base + "/a"
	certDirB := base + "/b"
	cfg := &Config{
		Global: &GlobalOptions{AccountsDirectory: strPtr(base + "/accounts")},
		Certificates: []CertificateConfig{
			{Directory: strPtr(certDirA)},
			{Directory: strPtr(certDirB)},
		},
	}
	require.NoError(t, cfg.InitDirectories())
	for _, d := range []string{base + "/accounts", certDirA, certDirB} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}
