package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DeriveKey returns namespace + ":" + hex(sha256(canonical(params))).
// The canonical form is JSON with object keys sorted at every depth and no
// HTML escaping, so logically identical parameter sets hash the same
// regardless of insertion order.
func DeriveKey(namespace string, params map[string]any) (string, error) {
	canonical, err := Canonicalize(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return namespace + ":" + hex.EncodeToString(sum[:]), nil
}

// Canonicalize encodes params deterministically. encoding/json already emits
// map keys in sorted order; struct values are round-tripped through a map so
// they sort the same way.
func Canonicalize(params map[string]any) ([]byte, error) {
	normalized, err := normalize(params)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("cache: canonicalize params: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize converts arbitrary values to plain maps, slices and scalars.
func normalize(params map[string]any) (any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("cache: canonicalize params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("cache: canonicalize params: %w", err)
	}
	return out, nil
}
