// Package cache provides the content-addressed response cache. Keys cover
// both file content and the full prompt/parameter identity, so changing any
// prompt or model parameter invalidates an entry even for unchanged content.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yourorg/vulnscan/pkg/types"
)

// Cache stores parsed finding sets by key. Writes are best-effort:
// implementations must not fail the analysis on a failed write.
type Cache interface {
	Get(key string) ([]types.Finding, bool)
	Put(key string, findings []types.Finding, ttl time.Duration)
}

// KeyParams is the prompt/parameter half of a cache key.
type KeyParams struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Key derives the deterministic cache key for one unit of work.
func Key(content string, p KeyParams) string {
	contentSum := sha256.Sum256([]byte(content))
	paramSum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%g\x00%d",
		p.Model, p.SystemPrompt, p.UserPrompt, p.Temperature, p.MaxTokens)))
	return hex.EncodeToString(contentSum[:]) + ":" + hex.EncodeToString(paramSum[:16])
}

// Nop is a disabled cache.
type Nop struct{}

func (Nop) Get(string) ([]types.Finding, bool)            { return nil, false }
func (Nop) Put(string, []types.Finding, time.Duration)    {}

type memoryEntry struct {
	findings  []types.Finding
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache with per-entry TTL. Safe for
// concurrent use; last write wins.
type MemoryCache struct {
	lru *lru.Cache[string, memoryEntry]
	now func() time.Time
}

func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c, _ := lru.New[string, memoryEntry](maxEntries)
	return &MemoryCache{lru: c, now: time.Now}
}

func (m *MemoryCache) Get(key string) ([]types.Finding, bool) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		m.lru.Remove(key)
		return nil, false
	}
	return e.findings, true
}

func (m *MemoryCache) Put(key string, findings []types.Finding, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.lru.Add(key, memoryEntry{findings: findings, expiresAt: m.now().Add(ttl)})
}
