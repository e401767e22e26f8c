package filter

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PriceCache keeps the last reference USD price per (chain, token).
type PriceCache struct {
	mu   sync.RWMutex
	data map[string]float64
}

func NewPriceCache() *PriceCache {
	return &PriceCache{data: make(map[string]float64)}
}

func priceKey(chain string, token common.Address) string {
	return strings.ToUpper(chain) + ":" + token.Hex()
}

func (c *PriceCache) Get(chain string, token common.Address) (float64, bool) {
	c.mu.RLock()
	price, ok := c.data[priceKey(chain, token)]
	c.mu.RUnlock()
	return price, ok
}

// Set stores a positive price. Zero means the provider does not know the token yet and is
// never cached.
func (c *PriceCache) Set(chain string, token common.Address, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.data[priceKey(chain, token)] = price
	c.mu.Unlock()
}
