package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// RequestKey builds a canonical cache key for a read endpoint. Query
// parameters are sorted by name so that semantically identical requests with
// different parameter order map to the same entry.
func RequestKey(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		values := query[name]
		sort.Strings(values)
		for _, v := range values {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// HashKey hashes a key to a fixed length hex string.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
