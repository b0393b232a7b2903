package api

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
)

// ErrNotANumber is returned when a throttle argument is neither a number nor a quantity string.
var ErrNotANumber = errors.New("throttle argument must be a number")

// ParseQuantity parses a byte rate such as "1048576", "512k", "10m" or "1g".
// Suffixes are binary: k = 1024.
func ParseQuantity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrNotANumber
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	switch s[len(s)-1] {
	case 'k', 'K', 'm', 'M', 'g', 'G':
		s += "iB"
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("error parsing number %s: %w", strings.TrimSuffix(s, "iB"), err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("error parsing number %s: value out of range", strings.TrimSuffix(s, "iB"))
	}
	return int64(n), nil
}

// decodeThrottle accepts either a JSON number or a quantity string.
func decodeThrottle(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, ErrNotANumber
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, ErrNotANumber
		}
		return ParseQuantity(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, ErrNotANumber
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}

	// Fractions truncate toward zero.
	f, err := n.Float64()
	if err != nil {
		return 0, ErrNotANumber
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, nil
	case f <= math.MinInt64:
		return math.MinInt64, nil
	}
	return int64(f), nil
}
