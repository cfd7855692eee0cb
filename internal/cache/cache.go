// Package cache stores generated answers keyed by a normalized query.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
)

// Cache is an answer cache with a fixed TTL chosen at construction.
type Cache interface {
	// Get returns the cached response and true on a hit.
	Get(ctx context.Context, query string) (*models.RAGResponse, bool, error)
	Set(ctx context.Context, query string, resp *models.RAGResponse) error
}

// NormalizeQuery trims surrounding whitespace and lower-cases the query.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func hashKey(prefix, query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return prefix + hex.EncodeToString(sum[:])
}
