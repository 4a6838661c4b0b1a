// Package cache provides the local-first reference-data store: price
// quotes, phrase templates, transaction history and user settings, with
// TTL handling on the read path and a scheduled sweep.
package cache

import (
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sokoniapp/sokoni-core/internal/db"
	apperrors "github.com/sokoniapp/sokoni-core/internal/errors"
	"github.com/sokoniapp/sokoni-core/internal/logging"
	"github.com/sokoniapp/sokoni-core/internal/models"
	"github.com/sokoniapp/sokoni-core/internal/uuid"
)

// DefaultRecentLimit is how many recent transactions ReadRecentTransactions
// returns when the caller passes no limit.
const DefaultRecentLimit = 5

// expired is the single staleness predicate. The lazy read-path check uses
// it directly; the sweep and batch reads push the identical inclusive
// comparison (expires_at <= now) into SQL, so the two paths can never
// disagree about visibility.
func expired(expiresAt, now int64) bool {
	return expiresAt <= now
}

// DurableCache is the TTL-keyed local store for the four record families.
type DurableCache struct {
	repo   *db.Repository
	log    zerolog.Logger
	clock  func() time.Time
	closed atomic.Bool
}

// New creates a DurableCache over the given repository.
func New(repo *db.Repository) *DurableCache {
	return &DurableCache{
		repo:  repo,
		log:   logging.L().With().Str(logging.FieldComponent, "cache").Logger(),
		clock: time.Now,
	}
}

// Close marks the cache unusable. Every subsequent operation fails fast
// with NOT_INITIALIZED.
func (c *DurableCache) Close() {
	c.closed.Store(true)
}

func (c *DurableCache) guard() error {
	if c.repo == nil || c.closed.Load() {
		return apperrors.New(apperrors.ErrNotInitialized, "cache is not initialized")
	}
	return nil
}

func (c *DurableCache) now() int64 {
	return c.clock().UnixNano()
}

// =====================================================
// PriceQuote (24h TTL)
// =====================================================

// WritePriceQuote upserts a quote for its commodity. The expiry is always
// recomputed from write time; reads never extend it.
func (c *DurableCache) WritePriceQuote(q *models.PriceQuote) error {
	if err := c.guard(); err != nil {
		return err
	}
	if q.Commodity == "" {
		return apperrors.New(apperrors.ErrValidation, "commodity is required")
	}

	now := c.now()
	q.WriteTime = now
	q.ExpiresAt = now + int64(models.PriceQuoteTTL)

	if err := c.repo.UpsertPriceQuote(q); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write price quote", err)
	}
	return nil
}

// ReadPriceQuote returns the quote for a commodity. An expired quote is
// deleted as a side effect and reported as a miss; stale pricing is never
// surfaced as a hit.
func (c *DurableCache) ReadPriceQuote(commodity string) (*models.PriceQuote, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	q, err := c.repo.GetPriceQuote(commodity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrQuoteNotFound, "no quote for commodity: "+commodity)
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read price quote", err)
	}

	if expired(q.ExpiresAt, c.now()) {
		if err := c.repo.DeletePriceQuote(commodity); err != nil {
			c.log.Error().Err(err).Str(logging.FieldCommodity, commodity).Msg("failed to evict expired quote")
		}
		return nil, apperrors.New(apperrors.ErrQuoteNotFound, "quote expired for commodity: "+commodity)
	}

	return q, nil
}

// ReadAllPriceQuotes returns every live quote. Expired rows are evicted
// first with the same predicate the sweep uses.
func (c *DurableCache) ReadAllPriceQuotes() ([]*models.PriceQuote, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	if _, err := c.repo.DeletePriceQuotesExpiredBefore(c.now()); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to evict expired quotes", err)
	}

	quotes, err := c.repo.ListPriceQuotes()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list price quotes", err)
	}
	return quotes, nil
}

// =====================================================
// PhraseTemplate (no expiry)
// =====================================================

// WritePhraseTemplate upserts a template. A missing ID is generated.
func (c *DurableCache) WritePhraseTemplate(tpl *models.PhraseTemplate) error {
	if err := c.guard(); err != nil {
		return err
	}
	if tpl.Language == "" || tpl.Text == "" {
		return apperrors.New(apperrors.ErrValidation, "template language and text are required")
	}
	if tpl.ID == "" {
		tpl.ID = models.UUID(uuid.New())
	}

	if err := c.repo.UpsertPhraseTemplate(tpl); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write phrase template", err)
	}
	return nil
}

// ReadPhraseTemplate returns a template by ID.
func (c *DurableCache) ReadPhraseTemplate(id string) (*models.PhraseTemplate, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	tpl, err := c.repo.GetPhraseTemplate(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrTemplateNotFound, "no template with id: "+id)
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read phrase template", err)
	}
	return tpl, nil
}

// ReadPhraseTemplatesByLanguage returns all templates in a language.
func (c *DurableCache) ReadPhraseTemplatesByLanguage(language string) ([]*models.PhraseTemplate, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	templates, err := c.repo.ListPhraseTemplatesByLanguage(language)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list phrase templates", err)
	}
	return templates, nil
}

// ReadPhraseTemplatesByCategory returns all templates in a category.
func (c *DurableCache) ReadPhraseTemplatesByCategory(category string) ([]*models.PhraseTemplate, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	templates, err := c.repo.ListPhraseTemplatesByCategory(category)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list phrase templates", err)
	}
	return templates, nil
}

// =====================================================
// TransactionRecord (90-day retention)
// =====================================================

// WriteTransaction upserts a completed transaction. A missing ID is
// generated and a zero CompletedAt is stamped with the current time.
func (c *DurableCache) WriteTransaction(tx *models.TransactionRecord) error {
	if err := c.guard(); err != nil {
		return err
	}
	if tx.BuyerID == "" || tx.SellerID == "" || tx.Commodity == "" {
		return apperrors.New(apperrors.ErrValidation, "buyer, seller and commodity are required")
	}
	if tx.ID == "" {
		tx.ID = models.UUID(uuid.New())
	}
	if tx.CompletedAt == 0 {
		tx.CompletedAt = c.now()
	}

	if err := c.repo.UpsertTransaction(tx); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write transaction", err)
	}
	return nil
}

// ReadTransaction returns a transaction by ID.
func (c *DurableCache) ReadTransaction(id string) (*models.TransactionRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	tx, err := c.repo.GetTransaction(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "no transaction with id: "+id)
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read transaction", err)
	}
	return tx, nil
}

// ReadTransactionsByBuyer returns transactions where the user bought, newest first.
func (c *DurableCache) ReadTransactionsByBuyer(buyerID string) ([]*models.TransactionRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	txs, err := c.repo.ListTransactionsByBuyer(buyerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list transactions", err)
	}
	return txs, nil
}

// ReadTransactionsBySeller returns transactions where the user sold, newest first.
func (c *DurableCache) ReadTransactionsBySeller(sellerID string) ([]*models.TransactionRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	txs, err := c.repo.ListTransactionsBySeller(sellerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list transactions", err)
	}
	return txs, nil
}

// ReadTransactionsByCommodity returns transactions for one commodity, newest first.
func (c *DurableCache) ReadTransactionsByCommodity(commodity string) ([]*models.TransactionRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	txs, err := c.repo.ListTransactionsByCommodity(commodity)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list transactions", err)
	}
	return txs, nil
}

// ReadRecentTransactions merges records where the user is buyer or seller,
// newest first, capped at limit (default 5).
func (c *DurableCache) ReadRecentTransactions(userID string, limit int) ([]*models.TransactionRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	txs, err := c.repo.ListRecentTransactionsByUser(userID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list recent transactions", err)
	}
	return txs, nil
}

// =====================================================
// UserSettings (no expiry)
// =====================================================

// WriteUserSettings upserts a settings record and stamps UpdatedAt.
func (c *DurableCache) WriteUserSettings(s *models.UserSettings) error {
	if err := c.guard(); err != nil {
		return err
	}
	if s.UserID == "" {
		return apperrors.New(apperrors.ErrValidation, "user id is required")
	}

	s.UpdatedAt = c.now()
	if err := c.repo.UpsertUserSettings(s); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write user settings", err)
	}
	return nil
}

// ReadUserSettings returns settings by user ID.
func (c *DurableCache) ReadUserSettings(userID string) (*models.UserSettings, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	s, err := c.repo.GetUserSettings(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrSettingsNotFound, "no settings for user: "+userID)
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read user settings", err)
	}
	return s, nil
}

// PatchUserSettings applies a partial update to an existing record. It is
// not an upsert: a missing record fails with SETTINGS_NOT_FOUND and no
// mutation occurs.
func (c *DurableCache) PatchUserSettings(userID string, patch models.UserSettingsPatch) (*models.UserSettings, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	s, err := c.ReadUserSettings(userID)
	if err != nil {
		return nil, err
	}

	if patch.PreferredLanguage != nil {
		s.PreferredLanguage = *patch.PreferredLanguage
	}
	if patch.VoiceSpeed != nil {
		s.VoiceSpeed = *patch.VoiceSpeed
	}
	if patch.TextOnly != nil {
		s.TextOnly = *patch.TextOnly
	}
	if patch.AutoSync != nil {
		s.AutoSync = *patch.AutoSync
	}

	s.UpdatedAt = c.now()
	if err := c.repo.UpsertUserSettings(s); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to patch user settings", err)
	}
	return s, nil
}

// =====================================================
// Maintenance
// =====================================================

// CleanupExpired removes expired price quotes and transactions past the
// 90-day retention window. It is idempotent and safe under redundant or
// concurrent invocation; running it twice back to back deletes nothing the
// second time.
func (c *DurableCache) CleanupExpired() (int64, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}

	now := c.now()

	quotes, err := c.repo.DeletePriceQuotesExpiredBefore(now)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to sweep price quotes", err)
	}

	cutoff := now - int64(models.TransactionRetention)
	txs, err := c.repo.DeleteTransactionsCompletedBefore(cutoff)
	if err != nil {
		return quotes, apperrors.Wrap(apperrors.ErrDatabase, "failed to sweep transactions", err)
	}

	evicted := quotes + txs
	if evicted > 0 {
		c.log.Info().Int64(logging.FieldEvicted, evicted).Msg("cache sweep evicted records")
	}
	return evicted, nil
}

// ClearAll empties all four families. The outbound queue is untouched.
func (c *DurableCache) ClearAll() error {
	if err := c.guard(); err != nil {
		return err
	}

	if err := c.repo.ClearCache(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear cache", err)
	}
	c.log.Info().Msg("cache cleared")
	return nil
}

// Stats returns per-family record counts.
func (c *DurableCache) Stats() (map[string]int, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	counts, err := c.repo.CacheCounts()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count cache records", err)
	}
	return counts, nil
}
