// Package db provides CRUD repository operations for Sokoni data models.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/sokoniapp/sokoni-core/internal/models"
)

// Repository provides storage operations for the outbound queue and the
// reference-data cache. The two live in independent tables; there is no
// cross-table transactionality.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Message Operations (outbound queue)
// =====================================================

const messageColumns = `id, conversation_id, sender_id, recipient_id, payload_text,
	payload_language, audio_payload, enqueued_at, retry_count, status, last_error`

// CreateMessage persists a new queue entry. The caller is responsible for
// setting ID, EnqueuedAt and Status before calling.
func (r *Repository) CreateMessage(msg *models.Message) error {
	query := `
	INSERT INTO outbound_queue (` + messageColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, msg.ID, msg.ConversationID, msg.SenderID,
		msg.RecipientID, msg.PayloadText, msg.PayloadLanguage, msg.AudioPayload,
		msg.EnqueuedAt, msg.RetryCount, msg.Status, msg.LastError)
	return err
}

// GetMessage retrieves a queue entry by ID.
func (r *Repository) GetMessage(id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_queue WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanMessage(stmt.QueryRow(id))
}

// ListPendingMessages returns pending entries sorted by enqueue time
// ascending. This is the drain order: strict FIFO across conversations.
func (r *Repository) ListPendingMessages() ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_queue
		WHERE status = ? ORDER BY enqueued_at ASC`
	return r.queryMessages(query, models.MessageStatusPending)
}

// ListMessagesByStatus returns entries with the given status, oldest first.
func (r *Repository) ListMessagesByStatus(status models.MessageStatus) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_queue
		WHERE status = ? ORDER BY enqueued_at ASC`
	return r.queryMessages(query, status)
}

// ListMessagesByConversation returns entries for one conversation, oldest first.
func (r *Repository) ListMessagesByConversation(conversationID string) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_queue
		WHERE conversation_id = ? ORDER BY enqueued_at ASC`
	return r.queryMessages(query, conversationID)
}

// UpdateMessageState updates the retry state machine fields of one entry.
func (r *Repository) UpdateMessageState(id string, status models.MessageStatus, retryCount int, lastError string) error {
	query := `UPDATE outbound_queue SET status = ?, retry_count = ?, last_error = ? WHERE id = ?`
	result, err := r.db.Exec(query, status, retryCount, lastError, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ResetFailedMessages moves every failed entry back to pending with a fresh
// retry budget. Returns the number of entries reset.
func (r *Repository) ResetFailedMessages() (int64, error) {
	query := `UPDATE outbound_queue SET status = ?, retry_count = 0, last_error = '' WHERE status = ?`
	result, err := r.db.Exec(query, models.MessageStatusPending, models.MessageStatusFailed)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteMessage removes a queue entry. Delivery confirmation deletes rows
// immediately; there are no tombstones.
func (r *Repository) DeleteMessage(id string) error {
	result, err := r.db.Exec(`DELETE FROM outbound_queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteAllMessages empties the outbound queue.
func (r *Repository) DeleteAllMessages() error {
	_, err := r.db.Exec(`DELETE FROM outbound_queue`)
	return err
}

// CountMessagesByStatus returns per-status entry counts.
func (r *Repository) CountMessagesByStatus() (map[models.MessageStatus]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM outbound_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.MessageStatus]int)
	for rows.Next() {
		var status models.MessageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *Repository) queryMessages(query string, args ...interface{}) ([]*models.Message, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.RecipientID,
		&msg.PayloadText, &msg.PayloadLanguage, &msg.AudioPayload,
		&msg.EnqueuedAt, &msg.RetryCount, &msg.Status, &msg.LastError,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// =====================================================
// PriceQuote Operations
// =====================================================

const quoteColumns = `commodity, price_per_unit, unit, currency, market_name, write_time, expires_at`

// UpsertPriceQuote writes a quote, overwriting any prior record for the
// same commodity.
func (r *Repository) UpsertPriceQuote(q *models.PriceQuote) error {
	query := `
	INSERT INTO price_quotes (` + quoteColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(commodity) DO UPDATE SET
		price_per_unit = excluded.price_per_unit,
		unit = excluded.unit,
		currency = excluded.currency,
		market_name = excluded.market_name,
		write_time = excluded.write_time,
		expires_at = excluded.expires_at
	`
	_, err := r.db.Exec(query, q.Commodity, q.PricePerUnit, q.Unit, q.Currency,
		q.MarketName, q.WriteTime, q.ExpiresAt)
	return err
}

// GetPriceQuote retrieves a quote by commodity, expired or not.
// Staleness is the cache layer's concern.
func (r *Repository) GetPriceQuote(commodity string) (*models.PriceQuote, error) {
	query := `SELECT ` + quoteColumns + ` FROM price_quotes WHERE commodity = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var q models.PriceQuote
	err = stmt.QueryRow(commodity).Scan(&q.Commodity, &q.PricePerUnit, &q.Unit,
		&q.Currency, &q.MarketName, &q.WriteTime, &q.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListPriceQuotes returns all stored quotes, expired or not.
func (r *Repository) ListPriceQuotes() ([]*models.PriceQuote, error) {
	rows, err := r.db.Query(`SELECT ` + quoteColumns + ` FROM price_quotes ORDER BY commodity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []*models.PriceQuote
	for rows.Next() {
		var q models.PriceQuote
		err := rows.Scan(&q.Commodity, &q.PricePerUnit, &q.Unit, &q.Currency,
			&q.MarketName, &q.WriteTime, &q.ExpiresAt)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, &q)
	}
	return quotes, rows.Err()
}

// DeletePriceQuote removes a quote by commodity.
func (r *Repository) DeletePriceQuote(commodity string) error {
	_, err := r.db.Exec(`DELETE FROM price_quotes WHERE commodity = ?`, commodity)
	return err
}

// DeletePriceQuotesExpiredBefore removes quotes whose expiry is at or before
// the cutoff. Returns the number of rows removed.
func (r *Repository) DeletePriceQuotesExpiredBefore(cutoff int64) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM price_quotes WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =====================================================
// PhraseTemplate Operations
// =====================================================

const templateColumns = `id, language, category, text`

// UpsertPhraseTemplate writes a template, overwriting any prior record
// with the same ID.
func (r *Repository) UpsertPhraseTemplate(tpl *models.PhraseTemplate) error {
	query := `
	INSERT INTO phrase_templates (` + templateColumns + `)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		language = excluded.language,
		category = excluded.category,
		text = excluded.text
	`
	_, err := r.db.Exec(query, tpl.ID, tpl.Language, tpl.Category, tpl.Text)
	return err
}

// GetPhraseTemplate retrieves a template by ID.
func (r *Repository) GetPhraseTemplate(id string) (*models.PhraseTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM phrase_templates WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var tpl models.PhraseTemplate
	err = stmt.QueryRow(id).Scan(&tpl.ID, &tpl.Language, &tpl.Category, &tpl.Text)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ListPhraseTemplatesByLanguage returns all templates in a language.
func (r *Repository) ListPhraseTemplatesByLanguage(language string) ([]*models.PhraseTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM phrase_templates WHERE language = ? ORDER BY category, id`
	return r.queryTemplates(query, language)
}

// ListPhraseTemplatesByCategory returns all templates in a category.
func (r *Repository) ListPhraseTemplatesByCategory(category string) ([]*models.PhraseTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM phrase_templates WHERE category = ? ORDER BY language, id`
	return r.queryTemplates(query, category)
}

func (r *Repository) queryTemplates(query string, args ...interface{}) ([]*models.PhraseTemplate, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.PhraseTemplate
	for rows.Next() {
		var tpl models.PhraseTemplate
		if err := rows.Scan(&tpl.ID, &tpl.Language, &tpl.Category, &tpl.Text); err != nil {
			return nil, err
		}
		templates = append(templates, &tpl)
	}
	return templates, rows.Err()
}

// =====================================================
// TransactionRecord Operations
// =====================================================

const transactionColumns = `id, buyer_id, seller_id, commodity, quantity, unit,
	agreed_price, currency, completed_at`

// UpsertTransaction writes a transaction record, overwriting any prior
// record with the same ID.
func (r *Repository) UpsertTransaction(tx *models.TransactionRecord) error {
	query := `
	INSERT INTO transaction_records (` + transactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		buyer_id = excluded.buyer_id,
		seller_id = excluded.seller_id,
		commodity = excluded.commodity,
		quantity = excluded.quantity,
		unit = excluded.unit,
		agreed_price = excluded.agreed_price,
		currency = excluded.currency,
		completed_at = excluded.completed_at
	`
	_, err := r.db.Exec(query, tx.ID, tx.BuyerID, tx.SellerID, tx.Commodity,
		tx.Quantity, tx.Unit, tx.AgreedPrice, tx.Currency, tx.CompletedAt)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *Repository) GetTransaction(id string) (*models.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transaction_records WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanTransaction(stmt.QueryRow(id))
}

// ListTransactionsByBuyer returns transactions where the user bought.
func (r *Repository) ListTransactionsByBuyer(buyerID string) ([]*models.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transaction_records
		WHERE buyer_id = ? ORDER BY completed_at DESC`
	return r.queryTransactions(query, buyerID)
}

// ListTransactionsBySeller returns transactions where the user sold.
func (r *Repository) ListTransactionsBySeller(sellerID string) ([]*models.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transaction_records
		WHERE seller_id = ? ORDER BY completed_at DESC`
	return r.queryTransactions(query, sellerID)
}

// ListTransactionsByCommodity returns transactions for one commodity.
func (r *Repository) ListTransactionsByCommodity(commodity string) ([]*models.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transaction_records
		WHERE commodity = ? ORDER BY completed_at DESC`
	return r.queryTransactions(query, commodity)
}

// ListRecentTransactionsByUser merges records where the user is buyer or
// seller, newest first. A user appearing on both sides across different
// records contributes each record once.
func (r *Repository) ListRecentTransactionsByUser(userID string, limit int) ([]*models.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transaction_records
		WHERE buyer_id = ? OR seller_id = ?
		ORDER BY completed_at DESC LIMIT ?`
	return r.queryTransactions(query, userID, userID, limit)
}

// DeleteTransactionsCompletedBefore removes records older than the cutoff.
// Returns the number of rows removed.
func (r *Repository) DeleteTransactionsCompletedBefore(cutoff int64) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM transaction_records WHERE completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *Repository) queryTransactions(query string, args ...interface{}) ([]*models.TransactionRecord, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*models.TransactionRecord
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(row rowScanner) (*models.TransactionRecord, error) {
	var tx models.TransactionRecord
	err := row.Scan(&tx.ID, &tx.BuyerID, &tx.SellerID, &tx.Commodity,
		&tx.Quantity, &tx.Unit, &tx.AgreedPrice, &tx.Currency, &tx.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// =====================================================
// UserSettings Operations
// =====================================================

const settingsColumns = `user_id, preferred_language, voice_speed, text_only, auto_sync, updated_at`

// UpsertUserSettings writes a settings record, overwriting any prior record
// for the same user.
func (r *Repository) UpsertUserSettings(s *models.UserSettings) error {
	query := `
	INSERT INTO user_settings (` + settingsColumns + `)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		preferred_language = excluded.preferred_language,
		voice_speed = excluded.voice_speed,
		text_only = excluded.text_only,
		auto_sync = excluded.auto_sync,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, s.UserID, s.PreferredLanguage, s.VoiceSpeed,
		s.TextOnly, s.AutoSync, s.UpdatedAt)
	return err
}

// GetUserSettings retrieves settings by user ID.
func (r *Repository) GetUserSettings(userID string) (*models.UserSettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM user_settings WHERE user_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var s models.UserSettings
	err = stmt.QueryRow(userID).Scan(&s.UserID, &s.PreferredLanguage,
		&s.VoiceSpeed, &s.TextOnly, &s.AutoSync, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// =====================================================
// Maintenance Operations
// =====================================================

// ClearCache empties all four cache tables. The queue is untouched.
func (r *Repository) ClearCache() error {
	for _, table := range []string{"price_quotes", "phrase_templates", "transaction_records", "user_settings"} {
		if _, err := r.db.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}
	return nil
}

// CacheCounts returns per-family record counts.
func (r *Repository) CacheCounts() (map[string]int, error) {
	counts := make(map[string]int, 4)
	for _, table := range []string{"price_quotes", "phrase_templates", "transaction_records", "user_settings"} {
		var n int
		if err := r.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}
