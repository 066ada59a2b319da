package state

import (
	"fmt"

	"vaultchain/native/loan"
)

// PriceRecord is the fixed interval price of a feed as of Height. Live is
// cleared when the oracles disagree or the feed stops updating.
type PriceRecord struct {
	Feed   string
	Price  uint64
	Height uint64
	Live   bool
}

// SetPrice records the price of a feed observed at height.
func (m *Manager) SetPrice(feed string, price loan.Amount, height uint64, live bool) error {
	feed = normalizeSymbol(feed)
	if feed == "" {
		return fmt.Errorf("price feed id required")
	}
	if price < 0 {
		return fmt.Errorf("price of %s must not be negative", feed)
	}
	return m.KVPut(priceKey(feed), &PriceRecord{Feed: feed, Price: uint64(price), Height: height, Live: live})
}

// Price returns the stored record of a feed, or nil when none was set.
func (m *Manager) Price(feed string) (*PriceRecord, error) {
	rec := new(PriceRecord)
	ok, err := m.KVGet(priceKey(normalizeSymbol(feed)), rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec, nil
}

// Prices lists every stored price ordered by feed id.
func (m *Manager) Prices() ([]*PriceRecord, error) {
	keys, values, err := m.scan(pricePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*PriceRecord, 0, len(keys))
	for _, key := range keys {
		rec := new(PriceRecord)
		if err := decodeRLP(values[key], rec); err != nil {
			return nil, fmt.Errorf("price %s: %w", key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// PriceOf implements loan.PriceFeed. The token is resolved to its price feed
// first. A price recorded above height, a missing price and a zero price are
// all reported as not live.
func (m *Manager) PriceOf(token string, height uint64) (loan.Amount, bool, error) {
	feed := normalizeSymbol(token)
	meta, err := m.Token(feed)
	if err != nil {
		return 0, false, err
	}
	if meta != nil && meta.PriceFeedID != "" {
		feed = meta.PriceFeedID
	}
	rec, err := m.Price(feed)
	if err != nil {
		return 0, false, err
	}
	if rec == nil || rec.Height > height || rec.Price == 0 {
		return 0, false, nil
	}
	price, err := fromUint(rec.Price)
	if err != nil {
		return 0, false, err
	}
	return price, rec.Live, nil
}
