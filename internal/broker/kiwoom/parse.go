package kiwoom

import (
	"strconv"
	"strings"

	"trend-trader/internal/types"
)

// toInt parses Kiwoom numeric strings: zero padded, optionally signed
// ("+10050", "-9700", "000000000012"). Prices carry a direction sign, so
// callers wanting a price use price().
func toInt(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg, s = true, s[1:]
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return 0
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	if neg {
		return -n
	}
	return n
}

func price(s string) int64 {
	n := toInt(s)
	if n < 0 {
		return -n
	}
	return n
}

func toFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// stockCode strips the "A" market prefix and the "_NX" venue suffix.
func stockCode(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "_NX")
	s = strings.TrimSuffix(s, "_AL")
	if len(s) == 7 && (s[0] == 'A' || s[0] == 'J') {
		s = s[1:]
	}
	return s
}

// venueCode is the stock code as quoted on venue.
func venueCode(code string, venue types.Venue) string {
	if venue == types.VenueNXT {
		return code + "_NX"
	}
	return code
}

// isoDate converts YYYYMMDD to YYYY-MM-DD; other input is returned as is.
func isoDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 8 {
		return s[:4] + "-" + s[4:6] + "-" + s[6:]
	}
	return s
}

// compactDate converts YYYY-MM-DD to YYYYMMDD.
func compactDate(s string) string {
	return strings.ReplaceAll(s, "-", "")
}
