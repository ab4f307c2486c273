package identifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDNAIdempotent(t *testing.T) {
	once, err := ToIDNA("example.org")
	require.NoError(t, err)
	twice, err := ToIDNA(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestIPv4TLSALPNName(t *testing.T) {
	id, err := New(IP, "203.0.113.1", "http-01", nil)
	require.NoError(t, err)
	name, err := id.TLSALPNName()
	require.NoError(t, err)
	require.Equal(t, "1.113.0.203.in-addr.arpa", name)
}

func TestIPv6TLSALPNName(t *testing.T) {
	id, err := New(IP, "2001:db8::1", "http-01", nil)
	require.NoError(t, err)
	name, err := id.TLSALPNName()
	require.NoError(t, err)
	require.Equal(t, "1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa", name)
}

func TestChallengeKindSupport(t *testing.T) {
	_, err := New(IP, "203.0.113.1", "dns-01", nil)
	require.Error(t, err)

	_, err = New(DNS, "example.org", "dns-01", nil)
	require.NoError(t, err)
}
