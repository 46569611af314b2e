// Package ids generates non-wire-visible scratch identifiers (connection
// ids, internal correlation handles). Wire-visible identifiers
// (GenomeId, TrainingSessionId) use github.com/google/uuid directly and
// live in their owning packages.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate returns a random 16-byte hex token, falling back to a
// timestamp-derived value if the system CSPRNG is unavailable.
func Generate() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
