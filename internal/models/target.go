package models

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Target key namespaces.
const (
	TargetPrefixID   = "id:"
	TargetPrefixName = "name:"
)

// Target is a subject the host has marked for observation.
type Target struct {
	DisplayName string `json:"displayName"`
}

// Targets maps a target key to its display record.
type Targets map[string]Target

// TargetKey builds the stable key for a subject. Subjects with a known numeric
// id use the by-id namespace; everything else falls back to the display name.
func TargetKey(id int64, name string) string {
	if id > 0 {
		return TargetPrefixID + strconv.FormatInt(id, 10)
	}
	if name == "" {
		name = "unknown"
	}
	return TargetPrefixName + name
}

// IsTargetKey reports whether key belongs to one of the target namespaces.
func IsTargetKey(key string) bool {
	return strings.HasPrefix(key, TargetPrefixID) || strings.HasPrefix(key, TargetPrefixName)
}

// Clone returns a copy of the mapping.
func (t Targets) Clone() Targets {
	out := make(Targets, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Canonical returns the canonical JSON encoding. encoding/json sorts map keys,
// so two equal mappings always encode identically.
func (t Targets) Canonical() string {
	if t == nil {
		t = Targets{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return string(data)
}

// Fingerprint returns a BLAKE3 digest of the canonical encoding.
func (t Targets) Fingerprint() string {
	sum := blake3.Sum256([]byte(t.Canonical()))
	return hex.EncodeToString(sum[:])
}
