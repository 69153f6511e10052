package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const fingerprintSeparator = "|"

// BuildDiffFingerprint renders every segment as "<type>:<primary text>" in
// order, joined by "|".
func BuildDiffFingerprint(diff []Segment) string {
	var b strings.Builder
	for i, seg := range diff {
		if i > 0 {
			b.WriteString(fingerprintSeparator)
		}
		b.WriteString(string(seg.Type))
		b.WriteByte(':')
		b.WriteString(seg.Primary())
	}
	return b.String()
}

// ComputeNegotiationContractFingerprint hashes body then summary. Each part
// is length-prefixed so moving text between them changes the result.
func ComputeNegotiationContractFingerprint(body, summary string) string {
	h := sha256.New()
	for _, part := range []string{body, summary} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
