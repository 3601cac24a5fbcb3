// Package rag retrieves category checklist guidance to steer claim
// extraction toward what matters for a campaign's vertical.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/diligencelabs/dialer/internal/store"
)

// retrievalLimit caps how many checklist items join an extraction prompt.
const retrievalLimit = 5

// Embedder produces an embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ChecklistStore is the slice of the store the retriever needs.
type ChecklistStore interface {
	UpsertChecklistItem(ctx context.Context, id, category, content string, embedding []float64) error
	SearchChecklist(ctx context.Context, embedding []float64, category string, limit int) ([]store.ChecklistItem, error)
	ChecklistByCategory(ctx context.Context, category string) ([]store.ChecklistItem, error)
}

type Retriever struct {
	store    ChecklistStore
	embedder Embedder
	logger   *slog.Logger
}

func NewRetriever(cs ChecklistStore, embedder Embedder, logger *slog.Logger) *Retriever {
	return &Retriever{store: cs, embedder: embedder, logger: logger}
}

// Context returns checklist guidance for a category, ranked by similarity to
// the transcript. Embedding failures degrade to the unranked category list
// rather than blocking extraction; an unknown category yields an empty
// context.
func (r *Retriever) Context(ctx context.Context, category, transcript string) (string, error) {
	items, err := r.ranked(ctx, category, transcript)
	if err != nil {
		r.logger.Warn("checklist ranking unavailable, using category list",
			"category", category, "error", err)
		items, err = r.store.ChecklistByCategory(ctx, category)
		if err != nil {
			return "", fmt.Errorf("checklist fallback: %w", err)
		}
	}
	if len(items) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Key areas to verify for this category:\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item.Content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (r *Retriever) ranked(ctx context.Context, category, transcript string) ([]store.ChecklistItem, error) {
	embedding, err := r.embedder.Embed(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("embed transcript: %w", err)
	}
	items, err := r.store.SearchChecklist(ctx, embedding, category, retrievalLimit)
	if err != nil {
		return nil, fmt.Errorf("search checklist: %w", err)
	}
	return items, nil
}

// defaultChecklists seed the knowledge base for the supported verticals.
var defaultChecklists = map[string][]string{
	"Retail": {
		"Current shelf prices for staple goods and whether they changed in the last quarter",
		"Out-of-stock events: which SKUs, how long, and how often",
		"Promotional activity and discount depth compared to the prior period",
		"Supplier delivery reliability and lead times",
		"Foot traffic trends relative to the same period last year",
	},
	"Healthcare": {
		"Availability and wait times for common procedures and appointments",
		"Pricing changes for out-of-pocket services",
		"Staffing levels and hiring difficulty for clinical roles",
		"Supply shortages for drugs or consumables",
		"Patient volume trends by department",
	},
	"Technology": {
		"Component pricing and availability, especially semiconductors",
		"Order backlog depth and cancellation rates",
		"Channel inventory levels relative to sell-through",
		"Customer upgrade or renewal intent",
		"Competitive pricing pressure in active deals",
	},
}

// SeedDefaults writes the built-in checklists, embedding each item. Existing
// items are overwritten so re-seeding after an embedding model change
// refreshes the vectors.
func (r *Retriever) SeedDefaults(ctx context.Context) error {
	for category, items := range defaultChecklists {
		for i, content := range items {
			embedding, err := r.embedder.Embed(ctx, content)
			if err != nil {
				return fmt.Errorf("embed checklist item: %w", err)
			}
			id := fmt.Sprintf("%s-%d", strings.ToLower(category), i)
			if err := r.store.UpsertChecklistItem(ctx, id, category, content, embedding); err != nil {
				return err
			}
		}
		r.logger.Info("seeded checklist", "category", category, "items", len(items))
	}
	return nil
}
