package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	countPattern   = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([KkMmBb])?`)
	hoursPattern   = regexp.MustCompile(`(\d+)\s*h(?:ours?|rs?)?`)
	minutesPattern = regexp.MustCompile(`(\d+)\s*m(?:in(?:ute)?s?)?\b`)
	isoDuration    = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?`)
)

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

// normList trims, drops empties and duplicates, and caps the result at limit (0 means no cap).
func normList(in []string, limit int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = normSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func firstInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, _ := strconv.Atoi(b.String())
	return n
}

// parseCount reads vote counts such as "2,345", "850K" or "3.1M".
func parseCount(s string) (int, bool) {
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		value *= 1e3
	case "M":
		value *= 1e6
	case "B":
		value *= 1e9
	}
	return int(value + 0.5), true
}

// parseRuntime reads "142 min", "2h 22m" or "2 hours 22 minutes" into minutes.
func parseRuntime(s string) (int, bool) {
	s = strings.ToLower(s)
	total := 0
	found := false
	if m := hoursPattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		total += h * 60
		found = true
	}
	if m := minutesPattern.FindStringSubmatch(s); m != nil {
		mins, _ := strconv.Atoi(m[1])
		total += mins
		found = true
	}
	return total, found && total > 0
}

// parseISODuration reads schema.org durations like "PT2H22M".
func parseISODuration(s string) (int, bool) {
	m := isoDuration.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	total := h*60 + mins
	return total, total > 0
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !finite(v) {
		return 0, false
	}
	return v, true
}

// finite rejects the NaN and Inf spellings strconv accepts.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
