package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FingerprintInput is everything that determines an answer.
type FingerprintInput struct {
	Question string
	TopK     int
	Model    string
	Alpha    float64
	Rerank   bool
	Language string
	ChunkIDs []string
}

// Fingerprint returns the sha256 hex digest of a canonical encoding of in.
// The question is NFKC-normalized, whitespace-collapsed and lowercased;
// chunk ids are sorted.
func Fingerprint(in FingerprintInput) string {
	ids := append([]string(nil), in.ChunkIDs...)
	sort.Strings(ids)

	canonical := struct {
		Question string   `json:"q"`
		TopK     int      `json:"k"`
		Model    string   `json:"m"`
		Alpha    float64  `json:"a"`
		Rerank   bool     `json:"r"`
		Language string   `json:"l"`
		ChunkIDs []string `json:"c"`
	}{
		Question: strings.ToLower(strings.Join(strings.Fields(norm.NFKC.String(in.Question)), " ")),
		TopK:     in.TopK,
		Model:    in.Model,
		Alpha:    in.Alpha,
		Rerank:   in.Rerank,
		Language: in.Language,
		ChunkIDs: ids,
	}
	// Marshal of this struct cannot fail.
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
