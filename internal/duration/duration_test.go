package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTable(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"40s2s", 42 * time.Second},
		{"1w", 604800 * time.Second},
		{"42m30s", 2550 * time.Second},
		{"1d", 86400 * time.Second},
		{"1h", 3600 * time.Second},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "10", "10x", "-5s"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}
