package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/utils"
)

// Fingerprint identifies a query for caching. Whitespace differences and unset
// filters do not change it.
func Fingerprint(text string, filters jobs.Filters) string {
	// Canonical is a flat map of scalars; encoding/json sorts its keys.
	canonical, _ := json.Marshal(filters.Canonical())

	h := sha256.New()
	h.Write([]byte(utils.NormalizeSpace(text)))
	h.Write([]byte("\n"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
