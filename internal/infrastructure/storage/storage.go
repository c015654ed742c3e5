// Package storage persists subscriptions and remembers which items were
// already delivered, backed by either a local SQLite file or Redis.
package storage

import (
	"crypto/sha256"
	"fmt"

	"github.com/katerpii/issue-agent/internal/domain"
)

// fingerprint identifies a result for duplicate suppression. Source and URL
// are hashed together, so the same link found by two sources counts twice.
func fingerprint(res domain.RawResult) string {
	sum := sha256.Sum256([]byte(res.Source + "|" + res.URL))
	return fmt.Sprintf("sha256:%x", sum[:16])
}
