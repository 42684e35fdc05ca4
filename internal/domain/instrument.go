package domain

import "context"

// Instrument is an immutable descriptor of a tradable coin.
type Instrument struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Quote is one price observation with the optional 24h change reported by the
// source.
type Quote struct {
	ID        string   `json:"id"`
	Price     float64  `json:"price"`
	Change24h *float64 `json:"change_24h,omitempty"`
}

// PriceSource fetches USD prices for a batch of instrument ids. Ids the source
// could not price are absent from the result. A failed request returns an
// error wrapping ErrSourceUnavailable.
type PriceSource interface {
	FetchPrices(ctx context.Context, ids []string) (map[string]float64, error)
}

// QuoteSource is a PriceSource that can also report 24h change.
type QuoteSource interface {
	PriceSource
	FetchQuotes(ctx context.Context, ids []string) (map[string]Quote, error)
}

// InstrumentIDs returns the ids of insts in order.
func InstrumentIDs(insts []Instrument) []string {
	ids := make([]string, len(insts))
	for i, inst := range insts {
		ids[i] = inst.ID
	}
	return ids
}
