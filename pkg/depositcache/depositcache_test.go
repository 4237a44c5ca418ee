package depositcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddressRoundTrip(t *testing.T) {
	c := New()

	_, ok := c.GetAddress("xpub1")
	assert.False(t, ok)

	c.SetAddress("xpub1", "bc1qexample")
	addr, ok := c.GetAddress("xpub1")
	assert.True(t, ok)
	assert.Equal(t, "bc1qexample", addr)

	c.ClearAddress("xpub1")
	_, ok = c.GetAddress("xpub1")
	assert.False(t, ok, "cleared address should no longer be returned")
}

func TestInvoiceExpires(t *testing.T) {
	c := New()

	c.SetInvoice("xpub1", "rgb:invoice", 3, -time.Second)
	_, _, ok := c.GetInvoice("xpub1")
	assert.False(t, ok, "an invoice whose ttl already elapsed must not be returned")

	c.SetInvoice("xpub1", "rgb:invoice2", 4, time.Hour)
	invoice, batchIdx, ok := c.GetInvoice("xpub1")
	assert.True(t, ok)
	assert.Equal(t, "rgb:invoice2", invoice)
	assert.Equal(t, 4, batchIdx)
}

func TestCacheIsPerWallet(t *testing.T) {
	c := New()
	c.SetAddress("xpub1", "addr-1")
	c.SetAddress("xpub2", "addr-2")

	addr1, _ := c.GetAddress("xpub1")
	addr2, _ := c.GetAddress("xpub2")
	assert.Equal(t, "addr-1", addr1)
	assert.Equal(t, "addr-2", addr2)
}
