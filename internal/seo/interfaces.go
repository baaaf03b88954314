package seo

import (
	"context"
	"time"
)

// Fetcher fetches one URL and extracts its SEO data.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (PageData, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests used for content deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}
