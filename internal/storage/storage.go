package storage

import "fxengine/internal/model"

// QuoteSink persists quote audit records.
type QuoteSink interface {
	PutQuotes(quotes []model.QuoteRecord) error
}
