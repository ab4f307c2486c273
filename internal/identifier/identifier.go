// Package identifier models ACME identifiers (DNS names and IP addresses),
// their IDNA normalisation, and the reverse-DNS name used for TLS-ALPN-01
// validation of IP identifiers (spec.md §3).
package identifier

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// Kind tags whether an Identifier is a DNS name or an IP address.
type Kind int

const (
	DNS Kind = iota
	IP
)

func (k Kind) String() string {
	if k == IP {
		return "ip"
	}
	return "dns"
}

// ParseKind parses the TOML-facing identifier kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dns":
		return DNS, nil
	case "ip":
		return IP, nil
	default:
		return DNS, fmt.Errorf("%s: unknown identifier kind", s)
	}
}

// ChallengeKind enumerates the ACME challenge types an Identifier may be
// configured to use.
type ChallengeKind int

const (
	HTTP01 ChallengeKind = iota
	DNS01
	TLSALPN01
)

func (c ChallengeKind) String() string {
	switch c {
	case HTTP01:
		return "http-01"
	case DNS01:
		return "dns-01"
	case TLSALPN01:
		return "tls-alpn-01"
	default:
		return "unknown"
	}
}

// ParseChallengeKind parses the TOML/wire challenge type string. Unknown
// challenge kinds are reported through a false second result rather than
// silently accepted,
// matching the "challenges of unknown kind are dropped on deserialisation"
// invariant applied one layer up, in acmetypes.
func ParseChallengeKind(s string) (ChallengeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http-01":
		return HTTP01, true
	case "dns-01":
		return DNS01, true
	case "tls-alpn-01":
		return TLSALPN01, true
	default:
		return 0, false
	}
}

// supportedChallenges lists which challenge kinds each identifier Kind
// supports, per spec.md §3: "DNS supports HTTP-01, DNS-01, TLS-ALPN-01;
// IP supports HTTP-01 and TLS-ALPN-01."
func (k Kind) supportedChallenges() []ChallengeKind {
	if k == IP {
		return []ChallengeKind{HTTP01, TLSALPN01}
	}
	return []ChallengeKind{HTTP01, DNS01, TLSALPN01}
}

// Supports reports whether challenge is usable with this identifier Kind.
func (k Kind) Supports(challenge ChallengeKind) bool {
	for _, c := range k.supportedChallenges() {
		if c == challenge {
			return true
		}
	}
	return false
}

// Identifier is a single subject identifier an order or certificate
// targets: exactly one of DNS or IP is populated (the Kind field selects
// which), plus the chosen challenge mechanism and a per-identifier
// environment map merged into challenge hook invocations.
type Identifier struct {
	Kind      Kind
	Value     string
	Challenge ChallengeKind
	Env       map[string]string
}

// New constructs an Identifier, normalising DNS names via IDNA and
// re-parsing/re-formatting IP addresses, and validates that the chosen
// challenge is supported by the identifier kind.
func New(kind Kind, value, challenge string, env map[string]string) (*Identifier, error) {
	ch, ok := ParseChallengeKind(challenge)
	if !ok {
		return nil, fmt.Errorf("%s: unknown challenge", challenge)
	}

	var normalized string
	switch kind {
	case DNS:
		ascii, err := ToIDNA(value)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid DNS name: %w", value, err)
		}
		normalized = ascii
	case IP:
		ip := net.ParseIP(value)
		if ip == nil {
			return nil, fmt.Errorf("%s: invalid IP address", value)
		}
		normalized = ip.String()
	default:
		return nil, fmt.Errorf("unknown identifier kind")
	}

	if !kind.Supports(ch) {
		return nil, fmt.Errorf("challenge %s cannot be used with identifier of type %s", ch, kind)
	}

	envCopy := make(map[string]string, len(env))
	for k, v := range env {
		envCopy[k] = v
	}

	return &Identifier{Kind: kind, Value: normalized, Challenge: ch, Env: envCopy}, nil
}

// ToIDNA normalises a DNS name to its ASCII ("A-label") form. It is
// idempotent: ToIDNA(ToIDNA(x)) == ToIDNA(x) for any valid x.
func ToIDNA(name string) (string, error) {
	return idna.Lookup.ToASCII(name)
}

// TLSALPNName returns the name used for TLS-ALPN-01 validation: the DNS
// value itself, or for an IP identifier its reverse-DNS PTR form under
// in-addr.arpa / ip6.arpa (spec.md §3 and §8 scenario 6).
func (id *Identifier) TLSALPNName() (string, error) {
	if id.Kind == DNS {
		return id.Value, nil
	}
	ip := net.ParseIP(id.Value)
	if ip == nil {
		return "", fmt.Errorf("%s: invalid IP address", id.Value)
	}
	name, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", err
	}
	// miekg/dns returns a trailing dot; the spec's examples do not include it.
	return strings.TrimSuffix(name, "."), nil
}

func (id *Identifier) String() string {
	return fmt.Sprintf("%s: %s (%s)", id.Kind, id.Value, id.Challenge)
}
