package api

import (
	"context"
	"fmt"
	"slices"

	"github.com/kittclouds/annokitt/internal/config"
	"github.com/kittclouds/annokitt/internal/store"
	"github.com/kittclouds/annokitt/pkg/window"
)

// SequentialSource pages by sort key through simplefetch.
type SequentialSource struct {
	Client    *Client
	ProjectID string
	// StartID anchors fetches made before any document is current.
	StartID string
}

var _ window.Source[store.Document] = (*SequentialSource)(nil)

func (s *SequentialSource) anchor(doc *store.Document) (string, error) {
	if doc != nil {
		return doc.ID, nil
	}
	if s.StartID == "" {
		return "", ErrNoAnchor
	}
	return s.StartID, nil
}

func (s *SequentialSource) Next(ctx context.Context, after *store.Document, n int) ([]store.Document, error) {
	id, err := s.anchor(after)
	if err != nil {
		return nil, err
	}
	return s.Client.SimpleFetch(ctx, s.ProjectID, id, n)
}

func (s *SequentialSource) Previous(ctx context.Context, before *store.Document, n int) ([]store.Document, error) {
	id, err := s.anchor(before)
	if err != nil {
		return nil, err
	}
	docs, err := s.Client.SimpleFetch(ctx, s.ProjectID, id, -n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(docs)
	return docs, nil
}

func (s *SequentialSource) Key(d store.Document) string { return d.ID }

// PrioritizedSource lets the server choose what comes next; going back
// walks the viewing history.
//
// The server records every document it hands out, including the ones still
// waiting in the lookahead window, so history newer than the anchor is not
// history to the viewer. Lookahead bounds how many such entries may sit in
// front of the anchor.
type PrioritizedSource struct {
	Client    *Client
	ProjectID string
	Lookahead int
}

var _ window.Source[store.Document] = (*PrioritizedSource)(nil)

func (s *PrioritizedSource) Next(ctx context.Context, _ *store.Document, n int) ([]store.Document, error) {
	return s.Client.RandFetch(ctx, s.ProjectID, n)
}

// Previous returns up to n documents viewed before the anchor, oldest
// first. Entries newer than the anchor are skipped; if the anchor is not in
// the fetched history the whole list counts as older. Repeat views keep
// only their most recent position.
func (s *PrioritizedSource) Previous(ctx context.Context, before *store.Document, n int) ([]store.Document, error) {
	lookahead := s.Lookahead
	if lookahead <= 0 {
		lookahead = 2 * window.DefaultCapacity
	}
	docs, err := s.Client.FetchHistory(ctx, s.ProjectID, n+lookahead)
	if err != nil {
		return nil, err
	}
	if before != nil {
		if i := slices.IndexFunc(docs, func(d store.Document) bool { return d.ID == before.ID }); i >= 0 {
			docs = docs[i+1:]
		}
	}

	out := make([]store.Document, 0, min(n, len(docs)))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if len(out) == n {
			break
		}
		if seen[d.ID] || (before != nil && d.ID == before.ID) {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *PrioritizedSource) Key(d store.Document) string { return d.ID }

// SourceFor returns the remote source for mode. capacity is the window
// size of the cache the source feeds.
func SourceFor(mode config.Mode, c *Client, projectID, startID string, capacity int) (window.Source[store.Document], error) {
	switch mode {
	case config.ModeSequential:
		return &SequentialSource{Client: c, ProjectID: projectID, StartID: startID}, nil
	case config.ModePrioritized:
		return &PrioritizedSource{Client: c, ProjectID: projectID, Lookahead: 2 * capacity}, nil
	default:
		return nil, fmt.Errorf("api: no remote source for mode %q", mode)
	}
}
