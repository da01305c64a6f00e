package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jdubz/imagineer/internal/domain"
)

// TemplateRepositoryPG resolves batch templates from PostgreSQL.
type TemplateRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a new template repository backed by PostgreSQL.
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepositoryPG {
	return &TemplateRepositoryPG{pool: pool}
}

// GetByID fetches a template with its rows ordered by position.
func (r *TemplateRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	var template domain.Template
	var adapters []byte
	query := `
SELECT id, name, base_prompt, style_suffix, negative_prompt, width, height, steps, guidance, adapters
FROM templates
WHERE id = $1;
`
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&template.ID,
		&template.Name,
		&template.BasePrompt,
		&template.StyleSuffix,
		&template.NegativePrompt,
		&template.Width,
		&template.Height,
		&template.Steps,
		&template.Guidance,
		&adapters,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}
	if len(adapters) > 0 {
		if err := json.Unmarshal(adapters, &template.Adapters); err != nil {
			return nil, fmt.Errorf("decode template adapters: %w", err)
		}
	}

	rows, err := r.pool.Query(ctx, `
SELECT position, fill
FROM template_rows
WHERE template_id = $1
ORDER BY position;
`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.TemplateRow
		if err := rows.Scan(&row.Position, &row.Fill); err != nil {
			return nil, err
		}
		template.Rows = append(template.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &template, nil
}
