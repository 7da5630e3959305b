// Package fingerprint canonicalizes client-supplied device attributes into a
// stable identity hash.
//
// The hash is a SHA-256 over a canonical JSON rendering of the components:
//   - key order never matters (object keys are emitted sorted)
//   - legacy attribute names are folded onto their canonical names
//   - known optional attributes that are absent, null or empty all render as
//     the same placeholder, so absent and empty hash identically
//   - unknown attributes that are empty are dropped for the same reason
//   - lists of scalars (fonts, plugins) are sorted
//
// Canonicalize is pure: no I/O, no clock, no salt.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Placeholder stands in for every absent or empty optional attribute.
const Placeholder = "<ausente>"

// ErrInvalidFingerprint is returned when a required component is missing or
// the component set cannot be rendered.
var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// Required lists the components every fingerprint must carry.
var Required = []string{"userAgent", "screenResolution", "timezone"}

// Optional lists the known components normalized to Placeholder when absent.
var Optional = []string{
	"installedFonts",
	"canvasHash",
	"webglHash",
	"audioHash",
	"platform",
	"language",
	"plugins",
	"cpuCores",
	"deviceMemory",
	"colorDepth",
	"touchSupport",
	"webglVendor",
	"webglRenderer",
}

// aliases maps the legacy front-end attribute names onto canonical names.
var aliases = map[string]string{
	"telaResolucao":     "screenResolution",
	"idioma":            "language",
	"fontesDetectadas":  "installedFonts",
	"canvasFingerprint": "canvasHash",
	"webglFingerprint":  "webglHash",
	"audioFingerprint":  "audioHash",
	"memoria":           "deviceMemory",
	"telaColorDepth":    "colorDepth",
}

// Canonicalize returns the identity hash of a component set.
func Canonicalize(components map[string]any) (string, error) {
	canon, err := Normalize(components)
	if err != nil {
		return "", err
	}

	// encoding/json emits map keys in sorted order.
	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Normalize returns the canonical component map hashed by Canonicalize.
func Normalize(components map[string]any) (map[string]any, error) {
	canon := make(map[string]any, len(components)+len(Optional))
	for k, v := range components {
		name := k
		if alias, ok := aliases[k]; ok {
			name = alias
		}
		nv := normalizeValue(v)
		if isEmpty(nv) {
			continue
		}
		// A canonical key wins over its legacy alias.
		if _, taken := canon[name]; taken && name != k {
			continue
		}
		canon[name] = nv
	}

	for _, name := range Required {
		if _, ok := canon[name]; !ok {
			return nil, fmt.Errorf("%w: missing component %q", ErrInvalidFingerprint, name)
		}
	}
	for _, name := range Optional {
		if _, ok := canon[name]; !ok {
			canon[name] = Placeholder
		}
	}
	return canon, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimSpace(t)
	case []string:
		items := make([]any, 0, len(t))
		for _, s := range t {
			items = append(items, s)
		}
		return normalizeList(items)
	case []any:
		return normalizeList(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			nv := normalizeValue(inner)
			if !isEmpty(nv) {
				out[k] = nv
			}
		}
		return out
	default:
		return t
	}
}

func normalizeList(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		nv := normalizeValue(item)
		if !isEmpty(nv) {
			out = append(out, nv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return sortKey(out[i]) < sortKey(out[j])
	})
	return out
}

func sortKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
