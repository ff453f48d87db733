// Package normalize coerces untrusted JSON into well-formed domain records.
//
// Normalizers never fail a whole request because of one bad field: invalid
// values fall back to a neutral default and invalid list elements are dropped.
package normalize

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joescharf/scoutsync/internal/models"
)

// Coord returns the canonical "a:b:c" form of a coordinate, or "" when the
// input does not split into three integers greater than zero.
func Coord(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return ""
	}
	out := make([]string, 3)
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || n <= 0 {
			return ""
		}
		out[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(out, ":")
}

// CoordList normalizes a JSON array of coordinates, dropping invalid entries
// and duplicates while keeping first-seen order.
func CoordList(r gjson.Result) []string {
	out := []string{}
	if !r.IsArray() {
		return out
	}
	seen := make(map[string]bool)
	r.ForEach(func(_, item gjson.Result) bool {
		c := Coord(text(item))
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
		return true
	})
	return out
}

// Coords normalizes a Go slice the same way CoordList does.
func Coords(list []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, item := range list {
		c := Coord(item)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// SortCoords orders canonical coordinates by a, then b, then c numerically.
func SortCoords(list []string) {
	sort.SliceStable(list, func(i, j int) bool {
		return lessCoord(list[i], list[j])
	})
}

func lessCoord(a, b string) bool {
	pa, pb := coordParts(a), coordParts(b)
	for i := range 3 {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return a < b
}

func coordParts(c string) [3]int64 {
	var out [3]int64
	for i, p := range strings.SplitN(c, ":", 3) {
		out[i], _ = strconv.ParseInt(p, 10, 64)
	}
	return out
}

// ActivityValue accepts "-", "*", or a string of digits. Anything else is "-".
func ActivityValue(r gjson.Result) string {
	raw := text(r)
	switch {
	case raw == models.ActivityActive:
		return models.ActivityActive
	case raw == "" || raw == models.ActivityUnknown:
		return models.ActivityUnknown
	case isDigits(raw):
		return raw
	}
	return models.ActivityUnknown
}

var yesTokens = map[string]bool{
	"yes":  true,
	"y":    true,
	"si":   true,
	"sí":   true,
	"true": true,
}

// DebrisValue returns the canonical yes token for any recognized affirmative
// and the no token for everything else.
func DebrisValue(r gjson.Result) string {
	if r.Type == gjson.True {
		return models.DebrisYes
	}
	if yesTokens[strings.ToLower(text(r))] {
		return models.DebrisYes
	}
	return models.DebrisNo
}

// FloorToBucket floors an epoch-millisecond timestamp to the bucket width.
func FloorToBucket(ts int64) int64 {
	w := models.BucketWidth.Milliseconds()
	if ts <= 0 {
		return 0
	}
	return ts / w * w
}

// text returns the trimmed textual form of a string or number value.
func text(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return strings.TrimSpace(r.Raw)
	}
	return ""
}

// millis coerces a number or numeric string into an integer timestamp.
func millis(r gjson.Result) (int64, bool) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func millisOr(r gjson.Result, fallback int64) int64 {
	if v, ok := millis(r); ok {
		return v
	}
	return fallback
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
