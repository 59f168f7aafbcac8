package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/enrollment"
)

// CustomerRepo stores customers and their channel permissions.
type CustomerRepo struct{ db *sql.DB }

// NewCustomerRepo creates a Postgres-backed customer repository.
func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{db: db} }

func (r *CustomerRepo) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c := &domain.Customer{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, business_id, COALESCE(first_name,''), COALESCE(last_name,''),
		       COALESCE(email,''), COALESCE(phone,''), email_opt_out, sms_consent,
		       created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.BusinessID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.EmailOptOut, &c.SMSConsent, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

// UpsertCustomer stores contact details from a job source. Opt-out and
// consent are taken from the job source on first insert only; after that
// they are owned by this service and never overwritten here.
func (r *CustomerRepo) UpsertCustomer(ctx context.Context, c *domain.Customer) error {
	consent := c.SMSConsent
	if consent == "" {
		consent = domain.SMSConsentUnknown
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (id, business_id, first_name, last_name, email, phone,
		                       email_opt_out, sms_consent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			email      = EXCLUDED.email,
			phone      = EXCLUDED.phone,
			updated_at = NOW()
	`, c.ID, c.BusinessID, c.FirstName, c.LastName, nullString(c.Email), nullString(c.Phone),
		c.EmailOptOut, consent)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

func (r *CustomerRepo) SetEmailOptOut(ctx context.Context, customerID string, optOut bool) error {
	return r.update(ctx, `UPDATE customers SET email_opt_out = $2, updated_at = NOW() WHERE id = $1`, customerID, optOut)
}

func (r *CustomerRepo) SetSMSConsent(ctx context.Context, customerID string, consent domain.SMSConsent) error {
	return r.update(ctx, `UPDATE customers SET sms_consent = $2, updated_at = NOW() WHERE id = $1`, customerID, consent)
}

func (r *CustomerRepo) update(ctx context.Context, q, id string, val any) error {
	res, err := r.db.ExecContext(ctx, q, id, val)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return enrollment.ErrCustomerNotFound
	}
	return nil
}

func (r *CustomerRepo) CustomerIDsByPhone(ctx context.Context, phone string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM customers WHERE phone = $1 ORDER BY id`, phone)
	if err != nil {
		return nil, fmt.Errorf("customers by phone: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
