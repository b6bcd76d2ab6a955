// Package memories defines the long-term memory contract used to augment
// conversation context with recalled facts.
package memories

import "context"

// Memory is one recalled fact with its similarity score.
type Memory struct {
	ID    string
	Text  string
	Score float64
}

type SearchOptions struct {
	// Limit bounds the number of recalled memories.
	Limit int
	// Threshold is the similarity floor; results below it are dropped.
	Threshold float64
}

type SearchOption func(*SearchOptions)

func WithLimit(limit int) SearchOption {
	return func(o *SearchOptions) { o.Limit = limit }
}

func WithThreshold(threshold float64) SearchOption {
	return func(o *SearchOptions) { o.Threshold = threshold }
}

// Store is a read-mostly memory backend. Search is issued per user turn;
// Record persists finished turns for future sessions.
type Store interface {
	Search(ctx context.Context, query string, opts ...SearchOption) ([]Memory, error)
	Record(ctx context.Context, role, content string) error
}
