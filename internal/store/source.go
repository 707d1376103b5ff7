package store

import (
	"context"
	"fmt"
	"math"

	"github.com/kittclouds/annokitt/pkg/window"
)

// LocalSource pages through a project's mirrored documents by sort key.
// It backs the offline mode.
type LocalSource struct {
	Store     Storer
	ProjectID string
}

var _ window.Source[Document] = (*LocalSource)(nil)

// Next returns documents after the anchor; a nil anchor starts at the
// beginning of the project.
func (s *LocalSource) Next(ctx context.Context, after *Document, n int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := int64(math.MinInt64)
	if after != nil {
		key = after.SortKey
	}
	docs, err := s.Store.DocumentsAfter(s.ProjectID, key, n)
	if err != nil {
		return nil, fmt.Errorf("local next: %w", err)
	}
	return deref(docs), nil
}

// Previous returns documents before the anchor, oldest first. A nil
// anchor yields the end of the project.
func (s *LocalSource) Previous(ctx context.Context, before *Document, n int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := int64(math.MaxInt64)
	if before != nil {
		key = before.SortKey
	}
	docs, err := s.Store.DocumentsBefore(s.ProjectID, key, n)
	if err != nil {
		return nil, fmt.Errorf("local previous: %w", err)
	}
	return deref(docs), nil
}

func deref(docs []*Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = *d
	}
	return out
}
