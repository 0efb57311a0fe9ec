package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sendgate/sendgate/pkg/models"
)

const templateColumns = `id, bot_slug, name, content, delay_minutes, active, after_start, after_pix, created_at, updated_at`

// TemplateStore persists downsell templates.
type TemplateStore struct {
	pool *pgxpool.Pool
}

func NewTemplateStore(pool *pgxpool.Pool) *TemplateStore {
	return &TemplateStore{pool: pool}
}

func scanTemplate(row pgx.Row) (*models.DownsellTemplate, error) {
	var t models.DownsellTemplate
	err := row.Scan(
		&t.ID, &t.BotSlug, &t.Name, &t.Content, &t.DelayMinutes,
		&t.Active, &t.AfterStart, &t.AfterPix, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func validateTemplate(t *models.DownsellTemplate) error {
	if t.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if t.DelayMinutes < 0 {
		return NewValidationError("delay_minutes", "delay must not be negative")
	}
	if t.Content.Text == "" && len(t.Content.Media) == 0 {
		return NewValidationError("content", "template needs text or media")
	}
	if len(t.Content.Media) > models.MaxMediaRefs {
		return NewValidationError("content", fmt.Sprintf("at most %d media references allowed", models.MaxMediaRefs))
	}
	return nil
}

// Create inserts a template for a bot. The bot must exist or ErrNotFound is
// returned via the foreign key.
func (s *TemplateStore) Create(ctx context.Context, t *models.DownsellTemplate) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO downsell_templates (bot_slug, name, content, delay_minutes, active, after_start, after_pix)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		t.BotSlug, t.Name, t.Content, t.DelayMinutes, t.Active, t.AfterStart, t.AfterPix)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("creating template %q for bot %q: %w", t.Name, t.BotSlug, translate(err))
	}
	return nil
}

// GetByID returns a template by its numeric id.
func (s *TemplateStore) GetByID(ctx context.Context, id int64) (*models.DownsellTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM downsell_templates
		WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, fmt.Errorf("getting template %d: %w", id, err)
	}
	return t, nil
}

// ListByBot returns every template of a bot, newest first.
func (s *TemplateStore) ListByBot(ctx context.Context, slug string) ([]*models.DownsellTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM downsell_templates
		WHERE bot_slug = $1
		ORDER BY id DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("listing templates for bot %q: %w", slug, err)
	}
	defer rows.Close()

	var templates []*models.DownsellTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// ActiveByTrigger returns the active templates of a bot whose gate matches the
// trigger, ordered by id so fan-out is deterministic.
func (s *TemplateStore) ActiveByTrigger(ctx context.Context, slug string, trigger models.Trigger) ([]*models.DownsellTemplate, error) {
	gate := "after_start"
	if trigger == models.TriggerPix {
		gate = "after_pix"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM downsell_templates
		WHERE bot_slug = $1 AND active AND `+gate+`
		ORDER BY id`, slug)
	if err != nil {
		return nil, fmt.Errorf("listing %s templates for bot %q: %w", trigger, slug, err)
	}
	defer rows.Close()

	var templates []*models.DownsellTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Update rewrites the mutable fields of a template.
func (s *TemplateStore) Update(ctx context.Context, t *models.DownsellTemplate) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE downsell_templates
		SET name = $2, content = $3, delay_minutes = $4, active = $5,
		    after_start = $6, after_pix = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Name, t.Content, t.DelayMinutes, t.Active, t.AfterStart, t.AfterPix)
	if err := row.Scan(&t.UpdatedAt); err != nil {
		return fmt.Errorf("updating template %d: %w", t.ID, translate(err))
	}
	return nil
}

// SetActive toggles a template without touching its content.
func (s *TemplateStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE downsell_templates
		SET active = $2, updated_at = now()
		WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("toggling template %d: %w", id, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a template. Schedules referencing it, pending or settled, go
// with it through the cascading foreign key. Deactivating is the
// history-preserving alternative.
func (s *TemplateStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM downsell_templates
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting template %d: %w", id, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
