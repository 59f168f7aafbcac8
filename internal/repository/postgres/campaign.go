package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/enrollment"
)

// CampaignRepo reads campaigns and business settings.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, business_id, name, service_type, status, touches, created_at, updated_at`

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var touches []byte
	if err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &c.ServiceType, &c.Status, &touches, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(touches) > 0 {
		if err := json.Unmarshal(touches, &c.Touches); err != nil {
			return nil, fmt.Errorf("decode touches for campaign %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (r *CampaignRepo) ActiveCampaigns(ctx context.Context, businessID string) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE business_id = $1 AND status = 'active'
		ORDER BY created_at, id
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// SetCampaignStatus changes a campaign's status.
func (r *CampaignRepo) SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return enrollment.ErrCampaignNotFound
	}
	return nil
}

// Settings returns the business's stored settings, or the defaults.
func (r *CampaignRepo) Settings(ctx context.Context, businessID string) (domain.BusinessSettings, error) {
	s := domain.BusinessSettings{BusinessID: businessID}
	var overrides, links []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(business_name,''), cooldown_days,
		       COALESCE(touch_delay_overrides, '{}'::jsonb), COALESCE(review_links, '{}'::jsonb),
		       COALESCE(default_review_destination,'')
		FROM business_settings
		WHERE business_id = $1
	`, businessID).Scan(&s.BusinessName, &s.CooldownDays, &overrides, &links, &s.DefaultReviewDestination)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultBusinessSettings(businessID), nil
	}
	if err != nil {
		return s, fmt.Errorf("get business settings: %w", err)
	}
	if err := json.Unmarshal(overrides, &s.TouchDelayOverrides); err != nil {
		return s, fmt.Errorf("decode touch_delay_overrides: %w", err)
	}
	if err := json.Unmarshal(links, &s.ReviewLinks); err != nil {
		return s, fmt.Errorf("decode review_links: %w", err)
	}
	return s, nil
}
