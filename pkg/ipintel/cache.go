package ipintel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// DefaultCacheTTL is how long a resolved signal stays fresh.
const DefaultCacheTTL = 7 * 24 * time.Hour

const cachePrefix = "ipsignal:"

// Cache holds recently resolved signals so most evaluations never wait on a
// provider. Entries expire after the TTL.
type Cache struct {
	db  *buntdb.DB
	ttl time.Duration
}

// NewCache opens a cache at path (":memory:" for process-local).
func NewCache(path string, ttl time.Duration) (*Cache, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ip cache: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns a fresh signal for ip.
func (c *Cache) Get(ip string) (*models.IPSignal, bool) {
	var sig models.IPSignal
	err := c.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(cachePrefix + ip)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &sig)
	})
	if err != nil {
		return nil, false
	}
	return &sig, true
}

// Put stores sig under its address.
func (c *Cache) Put(sig *models.IPSignal) error {
	if sig == nil || sig.IPAddress == "" {
		return nil
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(cachePrefix+sig.IPAddress, string(raw), &buntdb.SetOptions{Expires: true, TTL: c.ttl})
		return err
	})
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	n := 0
	_ = c.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(cachePrefix+"*", func(_, _ string) bool {
			n++
			return true
		})
	})
	return n
}

func (c *Cache) Close() error { return c.db.Close() }
