// Package json centralizes JSON serialization behind a single import so the
// encoder can be swapped without touching call sites. Backed by sonic.
package json

import (
	"github.com/bytedance/sonic"
)

var (
	api = sonic.ConfigStd
)

// Marshal encodes v to JSON.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalIndent encodes v to JSON with the given prefix and indent.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}
