// Package memory retrieves long-lived user facts used to personalize
// replies. Retrieval is best effort: callers degrade to no memories
// when it fails.
package memory

import "context"

// Fact is one stored item about a user.
type Fact struct {
	Category string
	Content  string
}

// Retriever finds the facts most relevant to a query for one user.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string, limit int) ([]Fact, error)
}

// Noop is the retriever used when no vector store is configured.
type Noop struct{}

func (Noop) Retrieve(ctx context.Context, userID, query string, limit int) ([]Fact, error) {
	return nil, nil
}
