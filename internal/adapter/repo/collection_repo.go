package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jdubz/imagineer/internal/domain"
)

// CollectionRepositoryPG implements domain.CollectionRepository on PostgreSQL.
type CollectionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCollectionRepository creates a new collection repository backed by PostgreSQL.
func NewCollectionRepository(pool *pgxpool.Pool) *CollectionRepositoryPG {
	return &CollectionRepositoryPG{pool: pool}
}

// Create persists the collection and its item references in one transaction.
func (r *CollectionRepositoryPG) Create(ctx context.Context, collection *domain.Collection) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin collection creation: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
INSERT INTO collections (id, name, source_kind, source_ref, created_at)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := tx.Exec(ctx, query,
		collection.ID,
		collection.Name,
		collection.SourceKind,
		collection.SourceRef,
		collection.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}

	itemQuery := `
INSERT INTO collection_items (collection_id, position, job_id, output_ref)
VALUES ($1, $2, $3, $4);
`
	for i, item := range collection.Items {
		if _, err := tx.Exec(ctx, itemQuery, collection.ID, i, item.JobID, item.OutputRef); err != nil {
			return fmt.Errorf("insert collection item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID fetches a collection and its items.
func (r *CollectionRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.Collection, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetBySourceRef fetches the collection materialized from the given source.
func (r *CollectionRepositoryPG) GetBySourceRef(ctx context.Context, sourceRef uuid.UUID) (*domain.Collection, error) {
	return r.get(ctx, `WHERE source_ref = $1`, sourceRef)
}

func (r *CollectionRepositoryPG) get(ctx context.Context, where string, arg any) (*domain.Collection, error) {
	var collection domain.Collection
	query := fmt.Sprintf(`
SELECT id, name, source_kind, source_ref, created_at
FROM collections
%s;
`, where)
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&collection.ID,
		&collection.Name,
		&collection.SourceKind,
		&collection.SourceRef,
		&collection.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
SELECT job_id, output_ref
FROM collection_items
WHERE collection_id = $1
ORDER BY position;
`, collection.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CollectionItem
		if err := rows.Scan(&item.JobID, &item.OutputRef); err != nil {
			return nil, err
		}
		collection.Items = append(collection.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &collection, nil
}
