// Package depositcache holds short-lived, per-wallet deposit address and
// invoice state in memory. It is intentionally non-durable: a process
// restart simply means the next deposit request mints a fresh address
// or invoice from the wallet node, which is cheap and has no
// correctness implications (unlike the job queue, watcher, and
// withdrawal state, which must survive restarts).
package depositcache

import (
	"sync"
	"time"
)

// Entry is the cached deposit material for one wallet.
type Entry struct {
	Address            string
	AssetInvoice       string
	BatchTransferIdx    int
	InvoiceCreatedAt    time.Time
	InvoiceExpiresAt    time.Time
}

// Cache is a process-local, mutex-guarded map keyed by xpub_vanilla.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// GetAddress returns the cached address for xpubVan, if any.
func (c *Cache) GetAddress(xpubVan string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[xpubVan]
	if !ok || e.Address == "" {
		return "", false
	}
	return e.Address, true
}

// SetAddress caches a freshly generated deposit address for xpubVan.
func (c *Cache) SetAddress(xpubVan, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(xpubVan)
	e.Address = address
}

// ClearAddress forgets the cached address, e.g. once it has received a
// deposit and a new single-use address must be minted next time.
func (c *Cache) ClearAddress(xpubVan string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[xpubVan]; ok {
		e.Address = ""
	}
}

// GetInvoice returns the cached asset invoice for xpubVan if it exists
// and has not expired.
func (c *Cache) GetInvoice(xpubVan string) (string, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[xpubVan]
	if !ok || e.AssetInvoice == "" {
		return "", 0, false
	}
	if !e.InvoiceExpiresAt.IsZero() && time.Now().After(e.InvoiceExpiresAt) {
		return "", 0, false
	}
	return e.AssetInvoice, e.BatchTransferIdx, true
}

// SetInvoice caches a freshly created asset invoice for xpubVan, valid
// for ttl.
func (c *Cache) SetInvoice(xpubVan, invoice string, batchTransferIdx int, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(xpubVan)
	now := time.Now()
	e.AssetInvoice = invoice
	e.BatchTransferIdx = batchTransferIdx
	e.InvoiceCreatedAt = now
	e.InvoiceExpiresAt = now.Add(ttl)
}

func (c *Cache) entryLocked(xpubVan string) *Entry {
	e, ok := c.entries[xpubVan]
	if !ok {
		e = &Entry{}
		c.entries[xpubVan] = e
	}
	return e
}
