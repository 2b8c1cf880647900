package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

type StaffRepository struct {
	pool *pgxpool.Pool
}

var _ ports.StaffRepository = (*StaffRepository)(nil)

func NewStaffRepository(pool *pgxpool.Pool) *StaffRepository {
	return &StaffRepository{pool: pool}
}

// FindActive loads an active staff member of the tenant.
func (r *StaffRepository) FindActive(ctx context.Context, tenantID, staffID string) (*domain.Staff, error) {
	const query = `
SELECT id, tenant_id, name, role, is_active
FROM staff
WHERE id = $1
  AND tenant_id = $2
  AND is_active = TRUE
`

	var (
		s    domain.Staff
		role string
	)
	err := GetDBTX(ctx, r.pool).QueryRow(ctx, query, staffID, tenantID).
		Scan(&s.ID, &s.TenantID, &s.Name, &role, &s.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrStaffNotFound
		}
		return nil, apperrors.Persistence("find staff", err)
	}
	s.Role = domain.Role(role)
	return &s, nil
}
