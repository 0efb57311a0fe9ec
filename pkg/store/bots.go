package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sendgate/sendgate/pkg/models"
)

const botColumns = `id, slug, name, provider, staging_chat_id, welcome, token_updated_at, deleted_at, created_at, updated_at`

// BotStore persists tenant bots and their sealed credentials.
type BotStore struct {
	pool *pgxpool.Pool
}

func NewBotStore(pool *pgxpool.Pool) *BotStore {
	return &BotStore{pool: pool}
}

// CredentialRow is the sealed credential material for one bot. Cipher and IV
// are base64 strings and are always both set or both absent.
type CredentialRow struct {
	Cipher    *string
	IV        *string
	UpdatedAt *time.Time
}

// Present reports whether a credential has ever been stored.
func (c CredentialRow) Present() bool {
	return c.Cipher != nil && c.IV != nil
}

func scanBot(row pgx.Row) (*models.Bot, error) {
	var b models.Bot
	err := row.Scan(
		&b.ID, &b.Slug, &b.Name, &b.Provider, &b.StagingChatID, &b.Welcome,
		&b.TokenUpdatedAt, &b.DeletedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// Create registers a new bot. The slug must be unique among live and
// soft-deleted bots alike.
func (s *BotStore) Create(ctx context.Context, bot *models.Bot) error {
	if err := models.ValidateSlug(bot.Slug); err != nil {
		return NewValidationError("slug", err.Error())
	}
	if bot.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if bot.Provider == "" {
		bot.Provider = models.ProviderTelegram
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO bots (slug, name, provider, staging_chat_id, welcome)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		bot.Slug, bot.Name, bot.Provider, bot.StagingChatID, bot.Welcome)
	if err := row.Scan(&bot.ID, &bot.CreatedAt, &bot.UpdatedAt); err != nil {
		return fmt.Errorf("creating bot %q: %w", bot.Slug, translate(err))
	}
	return nil
}

// GetBySlug returns a live bot by slug. Soft-deleted bots are invisible.
func (s *BotStore) GetBySlug(ctx context.Context, slug string) (*models.Bot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE slug = $1 AND deleted_at IS NULL`, slug)
	bot, err := scanBot(row)
	if err != nil {
		return nil, fmt.Errorf("getting bot %q: %w", slug, err)
	}
	return bot, nil
}

// List returns all live bots ordered by slug.
func (s *BotStore) List(ctx context.Context) ([]*models.Bot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE deleted_at IS NULL
		ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// UpdateProfile changes the display name and staging chat of a live bot.
func (s *BotStore) UpdateProfile(ctx context.Context, slug, name string, stagingChatID *int64) error {
	if name == "" {
		return NewValidationError("name", "name is required")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE bots
		SET name = $2, staging_chat_id = $3, updated_at = now()
		WHERE slug = $1 AND deleted_at IS NULL`,
		slug, name, stagingChatID)
	if err != nil {
		return fmt.Errorf("updating bot %q: %w", slug, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateWelcome replaces the welcome configuration of a live bot.
func (s *BotStore) UpdateWelcome(ctx context.Context, slug string, welcome models.WelcomeConfig) error {
	if len(welcome.Media) > models.MaxMediaRefs {
		return NewValidationError("media", fmt.Sprintf("at most %d media references allowed", models.MaxMediaRefs))
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE bots
		SET welcome = $2, updated_at = now()
		WHERE slug = $1 AND deleted_at IS NULL`,
		slug, welcome)
	if err != nil {
		return fmt.Errorf("updating welcome for bot %q: %w", slug, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCredential stores the sealed token for a live bot and returns the new
// credential timestamp.
func (s *BotStore) SetCredential(ctx context.Context, slug, cipher, iv string) (time.Time, error) {
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE bots
		SET token_cipher = $2, token_iv = $3, token_updated_at = now(), updated_at = now()
		WHERE slug = $1 AND deleted_at IS NULL
		RETURNING token_updated_at`,
		slug, cipher, iv).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("setting credential for bot %q: %w", slug, translate(err))
	}
	return updatedAt, nil
}

// Credential returns the sealed credential material for a live bot. A bot
// without a stored token yields a row with Present() == false, not an error.
func (s *BotStore) Credential(ctx context.Context, slug string) (CredentialRow, error) {
	var c CredentialRow
	err := s.pool.QueryRow(ctx, `
		SELECT token_cipher, token_iv, token_updated_at
		FROM bots
		WHERE slug = $1 AND deleted_at IS NULL`, slug).
		Scan(&c.Cipher, &c.IV, &c.UpdatedAt)
	if err != nil {
		return CredentialRow{}, fmt.Errorf("loading credential for bot %q: %w", slug, translate(err))
	}
	return c, nil
}

// CredentialUpdatedAt returns the credential timestamp without the sealed
// material. Nil means no token was ever stored.
func (s *BotStore) CredentialUpdatedAt(ctx context.Context, slug string) (*time.Time, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT token_updated_at
		FROM bots
		WHERE slug = $1 AND deleted_at IS NULL`, slug).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("checking credential age for bot %q: %w", slug, translate(err))
	}
	return at, nil
}

// ListWithCredentials returns the slugs of live bots that hold a sealed token,
// ordered by slug. Heartbeats iterate this set.
func (s *BotStore) ListWithCredentials(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT slug
		FROM bots
		WHERE deleted_at IS NULL AND token_cipher IS NOT NULL
		ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing bots with credentials: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// StagingChat returns the per-bot staging chat, nil when the bot relies on the
// deployment default.
func (s *BotStore) StagingChat(ctx context.Context, slug string) (*int64, error) {
	var chatID *int64
	err := s.pool.QueryRow(ctx, `
		SELECT staging_chat_id
		FROM bots
		WHERE slug = $1 AND deleted_at IS NULL`, slug).Scan(&chatID)
	if err != nil {
		return nil, fmt.Errorf("loading staging chat for bot %q: %w", slug, translate(err))
	}
	return chatID, nil
}

// SoftDelete hides a bot from all lookups while keeping its rows for audit.
func (s *BotStore) SoftDelete(ctx context.Context, slug string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bots
		SET deleted_at = now(), updated_at = now()
		WHERE slug = $1 AND deleted_at IS NULL`, slug)
	if err != nil {
		return fmt.Errorf("soft-deleting bot %q: %w", slug, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDelete removes a bot and, via cascading foreign keys, every dependent
// row. Only reachable for bots that were soft-deleted first.
func (s *BotStore) HardDelete(ctx context.Context, slug string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM bots
		WHERE slug = $1 AND deleted_at IS NOT NULL`, slug)
	if err != nil {
		return fmt.Errorf("hard-deleting bot %q: %w", slug, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
