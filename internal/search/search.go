// Package search fronts the FTS layer: it validates queries, resolves
// the label context for category filters, and handles keyset cursors.
package search

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Query is the public search request.
type Query struct {
	Scope         storage.SearchScope
	Text          string
	ImportBatchID string
	RunID         string
	StartDate     string
	EndDate       string
	Sources       []types.Source
	Categories    []types.Category
	LabelSpec     *types.LabelSpec
	Limit         int
	Cursor        string
}

// Hit is one projected search result. Source, Role and Stage are
// lowercase on the wire.
type Hit struct {
	ID      string  `json:"id"`
	Rank    float64 `json:"rank"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source,omitempty"`
	Role    string  `json:"role,omitempty"`
	DayDate string  `json:"dayDate,omitempty"`
	BatchID string  `json:"importBatchId,omitempty"`
	RunID   string  `json:"runId,omitempty"`
	Stage   string  `json:"stage,omitempty"`
}

// Result is one page of hits plus the cursor for the next page, empty
// when the page was not full.
type Result struct {
	Hits       []Hit  `json:"hits"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// cursor is the keyset position serialized into the opaque cursor
// string: base64url of JSON {rank, id}.
type cursor struct {
	Rank float64 `json:"rank"`
	ID   string  `json:"id"`
}

// Search validates and executes a full-text query. Category filters
// need a label context: an explicit label spec, or a run id whose
// frozen config supplies one.
func Search(ctx context.Context, store storage.Storage, q Query) (*Result, error) {
	if q.Text == "" {
		return nil, types.Invalidf("search text is required")
	}
	switch q.Scope {
	case storage.SearchRaw, storage.SearchOutputs:
	default:
		return nil, types.Invalidf("unknown search scope %q", q.Scope)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	spec := q.LabelSpec
	if len(q.Categories) > 0 {
		for _, c := range q.Categories {
			if !types.ValidCategory(c) {
				return nil, types.Invalidf("unknown category %q", c)
			}
		}
		if spec == nil && q.RunID != "" {
			r, err := store.GetRun(ctx, q.RunID)
			if err != nil {
				return nil, err
			}
			s := r.Config.LabelSpec
			spec = &s
		}
		if spec == nil {
			return nil, types.Invalidf("category filters need a label spec or a runId to resolve one from")
		}
	}

	sq := storage.SearchQuery{
		Scope:         q.Scope,
		Text:          q.Text,
		ImportBatchID: q.ImportBatchID,
		RunID:         q.RunID,
		StartDate:     q.StartDate,
		EndDate:       q.EndDate,
		Sources:       q.Sources,
		Categories:    q.Categories,
		LabelSpec:     spec,
		Limit:         limit,
	}
	if q.Cursor != "" {
		cur, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		sq.AfterRank = &cur.Rank
		sq.AfterID = cur.ID
	}

	rows, err := store.Search(ctx, sq)
	if err != nil {
		return nil, err
	}

	res := &Result{Hits: make([]Hit, 0, len(rows))}
	for _, h := range rows {
		res.Hits = append(res.Hits, project(h))
	}
	if len(rows) == limit {
		last := rows[len(rows)-1]
		res.NextCursor = encodeCursor(cursor{Rank: last.Rank, ID: last.ID})
	}
	return res, nil
}

func project(h *storage.SearchHit) Hit {
	return Hit{
		ID:      h.ID,
		Rank:    h.Rank,
		Snippet: h.Snippet,
		Source:  string(h.Source),
		Role:    string(h.Role),
		DayDate: h.DayDate,
		BatchID: h.BatchID,
		RunID:   h.RunID,
		Stage:   string(h.Stage),
	}
}

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, types.Invalidf("invalid search cursor")
	}
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return c, types.Invalidf("invalid search cursor")
	}
	return c, nil
}
