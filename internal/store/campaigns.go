package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

type Campaign struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Category       string
	PromptTemplate string
	Status         CampaignStatus
}

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, category, prompt_template, status
		FROM campaigns WHERE id = $1`, id)

	var c Campaign
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Category, &c.PromptTemplate, &c.Status)
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return &c, nil
}
