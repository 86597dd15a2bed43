// Package llm provides the LLM invocation layer: cached, retried, batched
// calls over a model.ChatModel provider.
package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
)

// CacheKey derives the cache key H = SHA256(prompt ∥ model ∥ temperature
// bucket). Temperatures are bucketed to one decimal so float noise does not
// fragment the cache.
func CacheKey(prompt, modelName string, temperature float64) string {
	bucket := math.Round(temperature*10) / 10

	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(modelName))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%.1f", bucket)
	return hex.EncodeToString(h.Sum(nil))
}
