package repository

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/internal/domain"
	"settlement-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CatalogRepository interface {
	Create(ctx context.Context, a *domain.BillableAction) error
	GetByID(ctx context.Context, id string) (*domain.BillableAction, error)
	GetByCode(ctx context.Context, code string) (*domain.BillableAction, error)
	List(ctx context.Context, filter domain.ActionFilter) ([]*domain.BillableAction, int64, error)
	Update(ctx context.Context, id string, upd *domain.BillableActionUpdate) (*domain.BillableAction, error)
	Delete(ctx context.Context, id string) error
}

type catalogRepo struct {
	db *pgxpool.Pool
}

func NewCatalogRepository(db *pgxpool.Pool) CatalogRepository {
	return &catalogRepo{db: db}
}

const actionColumns = `
	id, action_code, action_name, description, category, cost, currency,
	is_active, metadata, created_at, updated_at`

func scanAction(row pgx.Row) (*domain.BillableAction, error) {
	var a domain.BillableAction
	err := row.Scan(
		&a.ID,
		&a.ActionCode,
		&a.ActionName,
		&a.Description,
		&a.Category,
		&a.Cost,
		&a.Currency,
		&a.IsActive,
		&a.Metadata,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActionNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *catalogRepo) Create(ctx context.Context, a *domain.BillableAction) error {
	query := `
		INSERT INTO billable_actions (
			id, action_code, action_name, description, category, cost, currency, is_active, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.ActionCode,
		a.ActionName,
		a.Description,
		a.Category,
		a.Cost,
		a.Currency,
		a.IsActive,
		jsonb(a.Metadata),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return domain.ErrDuplicateActionCode
		}
		return fmt.Errorf("failed to create billable action: %w", err)
	}
	return nil
}

func (r *catalogRepo) GetByID(ctx context.Context, id string) (*domain.BillableAction, error) {
	return scanAction(r.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM billable_actions WHERE id = $1`, id))
}

func (r *catalogRepo) GetByCode(ctx context.Context, code string) (*domain.BillableAction, error) {
	return scanAction(r.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM billable_actions WHERE action_code = $1`, code))
}

func (r *catalogRepo) List(ctx context.Context, filter domain.ActionFilter) ([]*domain.BillableAction, int64, error) {
	page, limit := domain.Normalize(filter.Page, filter.Limit)

	f := &filterBuilder{}
	if filter.Category != "" {
		f.add("category = $%d", filter.Category)
	}
	if filter.IsActive != nil {
		f.add("is_active = $%d", *filter.IsActive)
	}
	if filter.Search != "" {
		f.add("(action_code ILIKE $%[1]d OR action_name ILIKE $%[1]d)", "%"+filter.Search+"%")
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM billable_actions WHERE 1=1`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count billable actions: %w", err)
	}

	query := `SELECT ` + actionColumns + ` FROM billable_actions WHERE 1=1` + f.where + ` ORDER BY category, action_code` + f.page(page, limit)
	rows, err := r.db.Query(ctx, query, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list billable actions: %w", err)
	}
	defer rows.Close()

	var actions []*domain.BillableAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan billable action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, total, rows.Err()
}

func (r *catalogRepo) Update(ctx context.Context, id string, upd *domain.BillableActionUpdate) (*domain.BillableAction, error) {
	var metadata []byte
	if upd.Metadata != nil {
		metadata = jsonb(upd.Metadata)
	}
	query := `
		UPDATE billable_actions
		SET
			action_name = COALESCE($2, action_name),
			description = COALESCE($3, description),
			category = COALESCE($4, category),
			cost = COALESCE($5, cost),
			currency = COALESCE($6, currency),
			is_active = COALESCE($7, is_active),
			metadata = CASE WHEN $8::jsonb IS NULL THEN metadata ELSE $8::jsonb END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + actionColumns

	return scanAction(r.db.QueryRow(ctx, query,
		id,
		upd.ActionName,
		upd.Description,
		upd.Category,
		upd.Cost,
		upd.Currency,
		upd.IsActive,
		metadata,
	))
}

func (r *catalogRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM billable_actions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete billable action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActionNotFound
	}
	return nil
}
