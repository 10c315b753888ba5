package translate

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	_ "modernc.org/sqlite"
)

// cacheCapacity is the maximum number of rows kept in the cache; the
// least-recently-used row is evicted to make room for a new one past this
// point (spec's persistent cache contract: a bounded cache that degrades
// gracefully rather than growing without limit).
const cacheCapacity = 1000

// Cache is a thread-safe, SQLite-backed translation cache keyed by
// (original text hash, language pair), with an optional fuzzy lookup by
// Levenshtein similarity. Grounded in the teacher's internal/core/db.Cache;
// this resolves an explicit Open Question (see DESIGN.md) in favor of a
// SQLite-backed store over a flat JSON file, since it gives the same
// testable contract — a cache hit skips the network call — with safe
// concurrent writers.
type Cache struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenCache opens (creating if needed) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	c := &Cache{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_hash TEXT NOT NULL,
			original_text TEXT NOT NULL,
			translated_text TEXT NOT NULL,
			lang_pair TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_used DATETIME DEFAULT CURRENT_TIMESTAMP,
			use_count INTEGER DEFAULT 1,
			UNIQUE(original_hash, lang_pair)
		);
		CREATE INDEX IF NOT EXISTS idx_original_hash ON cache(original_hash);
		CREATE INDEX IF NOT EXISTS idx_lang_pair ON cache(lang_pair);
		CREATE INDEX IF NOT EXISTS idx_last_used ON cache(last_used);
	`)
	return err
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

// GetExactMatch returns the cached translation for text under langPair, if
// any, and bumps its usage stats.
func (c *Cache) GetExactMatch(text, langPair string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hash := hashText(text)
	var translated string
	err := c.db.QueryRow(`
		SELECT translated_text FROM cache WHERE original_hash = ? AND lang_pair = ? LIMIT 1
	`, hash, langPair).Scan(&translated)
	if err != nil {
		return "", false
	}
	go c.touch(hash, langPair)
	return translated, true
}

// FuzzyMatch is the best match above threshold among candidates of similar
// length, by Levenshtein similarity.
type FuzzyMatch struct {
	OriginalText   string
	TranslatedText string
	Similarity     float64
}

// GetFuzzyMatch falls back to a length-filtered Levenshtein scan over up
// to 500 candidates when no exact hash match exists.
func (c *Cache) GetFuzzyMatch(text, langPair string, threshold float64) (*FuzzyMatch, bool) {
	if exact, ok := c.GetExactMatch(text, langPair); ok {
		return &FuzzyMatch{OriginalText: text, TranslatedText: exact, Similarity: 1.0}, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	textLen := len(text)
	minLen := int(float64(textLen) * threshold)
	maxLen := int(float64(textLen) / threshold)

	rows, err := c.db.Query(`
		SELECT original_hash, original_text, translated_text FROM cache
		WHERE lang_pair = ? AND LENGTH(original_text) BETWEEN ? AND ?
		ORDER BY last_used DESC LIMIT 500
	`, langPair, minLen, maxLen)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	var best *FuzzyMatch
	var bestHash string
	var bestSim float64
	for rows.Next() {
		var hash, original, translated string
		if err := rows.Scan(&hash, &original, &translated); err != nil {
			continue
		}
		sim := similarity(text, original)
		if sim >= threshold && sim > bestSim {
			bestSim = sim
			bestHash = hash
			best = &FuzzyMatch{OriginalText: original, TranslatedText: translated, Similarity: sim}
		}
	}
	if best != nil {
		go c.touch(bestHash, langPair)
	}
	return best, best != nil
}

func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// SaveTranslation upserts one cache entry, evicting the least-recently-used
// row first if the cache is at cacheCapacity (spec: bounded persistent
// cache).
func (c *Cache) SaveTranslation(original, translated, langPair string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := hashText(original)

	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count); err != nil {
		return fmt.Errorf("count cache rows: %w", err)
	}
	if count >= cacheCapacity {
		if _, err := c.db.Exec(`
			DELETE FROM cache WHERE id IN (
				SELECT id FROM cache ORDER BY last_used ASC LIMIT ?
			)
		`, count-cacheCapacity+1); err != nil {
			return fmt.Errorf("evict lru cache rows: %w", err)
		}
	}

	_, err := c.db.Exec(`
		INSERT INTO cache (original_hash, original_text, translated_text, lang_pair)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(original_hash, lang_pair) DO UPDATE SET
			translated_text = excluded.translated_text,
			last_used = CURRENT_TIMESTAMP,
			use_count = cache.use_count + 1
	`, hash, original, translated, langPair)
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

func (c *Cache) touch(hash, langPair string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db.Exec(`
		UPDATE cache SET last_used = CURRENT_TIMESTAMP, use_count = use_count + 1
		WHERE original_hash = ? AND lang_pair = ?
	`, hash, langPair)
}

// Count returns the number of rows currently cached.
func (c *Cache) Count() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int
	err := c.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n)
	return n, err
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
