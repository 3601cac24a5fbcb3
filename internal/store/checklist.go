package store

import (
	"context"
	"fmt"
)

// ChecklistItem is one piece of domain guidance used to steer extraction.
type ChecklistItem struct {
	ID       string
	Category string
	Content  string
}

// UpsertChecklistItem stores a checklist item with its embedding.
func (s *Store) UpsertChecklistItem(ctx context.Context, id, category, content string, embedding []float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checklist_embeddings (id, category, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET category = $2, content = $3, embedding = $4`,
		id, category, content, vectorLiteral(embedding))
	if err != nil {
		return fmt.Errorf("upsert checklist item: %w", err)
	}
	return nil
}

// SearchChecklist returns the checklist items in a category closest to the
// query embedding, by cosine distance.
func (s *Store) SearchChecklist(ctx context.Context, embedding []float64, category string, limit int) ([]ChecklistItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, content
		FROM checklist_embeddings
		WHERE category = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		category, vectorLiteral(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search checklist: %w", err)
	}
	defer rows.Close()

	var out []ChecklistItem
	for rows.Next() {
		var item ChecklistItem
		if err := rows.Scan(&item.ID, &item.Category, &item.Content); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ChecklistByCategory returns every checklist item in a category.
func (s *Store) ChecklistByCategory(ctx context.Context, category string) ([]ChecklistItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, content
		FROM checklist_embeddings
		WHERE category = $1
		ORDER BY id`, category)
	if err != nil {
		return nil, fmt.Errorf("checklist by category: %w", err)
	}
	defer rows.Close()

	var out []ChecklistItem
	for rows.Next() {
		var item ChecklistItem
		if err := rows.Scan(&item.ID, &item.Category, &item.Content); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
