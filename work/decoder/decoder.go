// Package decoder recovers the media payload that signal pages embed as an
// XXTEA-encrypted, base64-encoded JSON blob. Decoding is best-effort: any
// malformed input yields ok=false and never an error or panic, because a bad
// payload just means the caller falls through to the next extraction strategy.
package decoder

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/KEithwy1030/BTHsports.com/work/xxtea"
)

// signalKey is the compiled-in cipher key the upstream player pages use.
// Treated as a fixed contract: correctness is defined by round-tripping
// observed payloads, not by any cryptographic property.
const signalKey = "ABCDEFGHIJKLMNOPQRSTUVWX"

// Payload is the decrypted plaintext: the real media URL plus an optional
// issue timestamp (milliseconds, absent on some mirrors).
type Payload struct {
	URL string `json:"url"`
	TS  *int64 `json:"ts"`
}

// Decrypt decodes a base64 payload, decrypts it, and parses the JSON body.
// Returns ok=false on any decode, decrypt, or parse failure, or when the
// plaintext carries no URL.
func Decrypt(encoded string) (*Payload, bool) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	plain := xxtea.Decrypt(raw, []byte(signalKey))
	if plain == nil {
		return nil, false
	}

	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, false
	}
	if strings.TrimSpace(p.URL) == "" {
		return nil, false
	}

	return &p, true
}

// Key exposes the fixed cipher key for round-trip verification.
func Key() []byte {
	return []byte(signalKey)
}
