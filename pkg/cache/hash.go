package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizePrompt trims the prompt and collapses every run of whitespace
// into a single space. Case is preserved.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// HashPrompt returns the hex-encoded SHA-256 of the firm, the operation
// type and the normalized prompt, separated by NUL bytes so that no two
// distinct triples share a preimage.
func HashPrompt(firmID, operationType, prompt string) string {
	h := sha256.New()
	h.Write([]byte(firmID))
	h.Write([]byte{0})
	h.Write([]byte(operationType))
	h.Write([]byte{0})
	h.Write([]byte(NormalizePrompt(prompt)))
	return hex.EncodeToString(h.Sum(nil))
}
