// Package duration parses the "<int><unit>" duration grammar used
// throughout acmed's TOML configuration (renew_delay, random_early_renew,
// rate-limit periods). Units are s/m/h/d/w and may be concatenated, e.g.
// "40s2s" == 42s, "1w" == 604800s.
package duration

import (
	"fmt"
	"strconv"
	"time"
)

var multiplier = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
	'w': 604800,
}

// Parse parses a duration string composed of one or more "<digits><unit>"
// parts, where unit is one of s, m, h, d, w. An empty string is an error,
// as is any trailing unparsed content.
func Parse(input string) (time.Duration, error) {
	if input == "" {
		return 0, fmt.Errorf("%q: invalid duration", input)
	}

	var total int64
	i := 0
	for i < len(input) {
		start := i
		for i < len(input) && input[i] >= '0' && input[i] <= '9' {
			i++
		}
		if i == start {
			return 0, fmt.Errorf("%q: invalid duration", input)
		}
		n, err := strconv.ParseInt(input[start:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q: invalid duration", input)
		}
		if i >= len(input) {
			return 0, fmt.Errorf("%q: invalid duration", input)
		}
		mult, ok := multiplier[input[i]]
		if !ok {
			return 0, fmt.Errorf("%q: invalid duration", input)
		}
		i++
		total += n * mult
	}

	return time.Duration(total) * time.Second, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// default constants only.
func MustParse(input string) time.Duration {
	d, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return d
}
