// Package storage provides persistent storage using SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/rhinox-exchange/rhinox-v2/internal/config"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
)

// dbtx is satisfied by *sql.DB and *sql.Tx so every repository method
// works both standalone and inside a transaction scope.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Storage provides persistent storage for the Rhinox exchange.
type Storage struct {
	db     *sql.DB
	q      dbtx // db outside a scope, *sql.Tx inside
	dbPath string
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "rhinox.db")

	// _txlock=immediate makes every transaction take the write lock up
	// front, so conflicting scopes fail fast with SQLITE_BUSY instead of
	// deadlocking on lock upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		q:      db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// InTx reports whether this Storage is bound to a transaction scope.
func (s *Storage) InTx() bool {
	_, ok := s.q.(*sql.Tx)
	return ok
}

// WithTx runs fn inside a single serializable transaction scope. The
// Storage passed to fn is bound to the transaction; all reads and writes
// through it observe one consistent snapshot and commit atomically.
// Serialization conflicts surface as errs.ErrConflict.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *Storage) error) error {
	if s.InTx() {
		// Already inside a scope; nested calls join it.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLError(err)
	}

	scoped := &Storage{db: s.db, q: tx, dbPath: s.dbPath}
	if err := fn(scoped); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapSQLError(err)
	}
	return nil
}

// RunInTx runs fn inside a transaction scope, retrying on serialization
// conflict with exponential backoff and jitter. Exhausted retries return
// the last errs.ErrConflict.
func (s *Storage) RunInTx(ctx context.Context, fn func(tx *Storage) error) error {
	var err error
	for attempt := 0; attempt < config.TxMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := config.TxRetryBackoff << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
			}
		}

		err = s.WithTx(ctx, fn)
		if !errors.Is(err, errs.ErrConflict) {
			return err
		}
	}
	return err
}

// mapSQLError converts driver errors into the shared error kinds.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrTimeout, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}

	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", errs.ErrConflict, err)
		case sqlite3.ErrConstraint:
			switch serr.ExtendedCode {
			case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
				return fmt.Errorf("%w: %v", errs.ErrDuplicateKey, err)
			case sqlite3.ErrConstraintForeignKey:
				return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
			}
		}
	}
	return err
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Users (created externally, referenced by all financial entities)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		phone TEXT UNIQUE NOT NULL,
		email_verified INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	-- Bearer tokens resolved to principals by the auth service
	CREATE TABLE IF NOT EXISTS auth_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,

		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_auth_tokens_user ON auth_tokens(user_id);

	-- =========================================================================
	-- Wallets and Accounts
	-- =========================================================================

	-- Wallets hold fiat balances; rows with kind='crypto' are synthetic
	-- anchors for crypto ledger entries and always carry zero balances
	-- (the authoritative crypto balance lives on virtual_accounts).
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'fiat',

		-- Decimal strings; never floats
		balance TEXT NOT NULL DEFAULT '0',
		locked_balance TEXT NOT NULL DEFAULT '0',

		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER,

		FOREIGN KEY (user_id) REFERENCES users(id),
		UNIQUE(user_id, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_user ON wallets(user_id);

	-- Custodial crypto balances per (user, blockchain, currency).
	-- Frozen-in-escrow amount = account_balance - available_balance.
	CREATE TABLE IF NOT EXISTS virtual_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		blockchain TEXT NOT NULL,
		currency TEXT NOT NULL,

		account_balance TEXT NOT NULL DEFAULT '0',
		available_balance TEXT NOT NULL DEFAULT '0',

		is_active INTEGER NOT NULL DEFAULT 1,
		is_frozen INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER,

		FOREIGN KEY (user_id) REFERENCES users(id),
		UNIQUE(user_id, blockchain, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_virtual_accounts_user ON virtual_accounts(user_id);

	-- =========================================================================
	-- Ledger
	-- =========================================================================

	-- Immutable journal. Balances are mutated only by the reservation
	-- engine; every mutation is mirrored here.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,

		tx_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',

		-- Signed amount and fee as decimal strings
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		fee TEXT NOT NULL DEFAULT '0',

		reference TEXT UNIQUE NOT NULL,
		channel TEXT,
		description TEXT,

		-- Typed P2P leg tag; auxiliary audit data stays in metadata
		p2p_step TEXT,
		correlation_id TEXT,
		metadata TEXT,

		created_at INTEGER NOT NULL,
		completed_at INTEGER,

		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_wallet ON transactions(wallet_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions(tx_type);
	CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_correlation ON transactions(correlation_id);

	-- =========================================================================
	-- Exchange Rates (administered)
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS exchange_rates (
		id TEXT PRIMARY KEY,
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		rate TEXT NOT NULL,
		inverse_rate TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER,

		UNIQUE(from_currency, to_currency)
	);

	CREATE INDEX IF NOT EXISTS idx_exchange_rates_pair ON exchange_rates(from_currency, to_currency);

	-- =========================================================================
	-- P2P Ads and Orders
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS p2p_ads (
		id TEXT PRIMARY KEY,
		vendor_user_id TEXT NOT NULL,
		ad_type TEXT NOT NULL,

		blockchain TEXT NOT NULL,
		crypto_currency TEXT NOT NULL,
		fiat_currency TEXT NOT NULL,

		-- Fiat per unit crypto
		price TEXT NOT NULL,
		volume TEXT NOT NULL,

		-- Order bounds in fiat
		min_order TEXT NOT NULL,
		max_order TEXT NOT NULL,

		auto_accept INTEGER NOT NULL DEFAULT 0,

		-- Accepted vendor payment method ids (JSON array)
		payment_method_ids TEXT NOT NULL,

		-- Payment window in minutes
		processing_time INTEGER NOT NULL,

		status TEXT NOT NULL DEFAULT 'available',
		is_online INTEGER NOT NULL DEFAULT 1,
		orders_received INTEGER NOT NULL DEFAULT 0,

		created_at INTEGER NOT NULL,
		updated_at INTEGER,

		FOREIGN KEY (vendor_user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_p2p_ads_vendor ON p2p_ads(vendor_user_id);
	CREATE INDEX IF NOT EXISTS idx_p2p_ads_status ON p2p_ads(status);
	CREATE INDEX IF NOT EXISTS idx_p2p_ads_pair ON p2p_ads(crypto_currency, fiat_currency);

	CREATE TABLE IF NOT EXISTS p2p_orders (
		id TEXT PRIMARY KEY,
		ad_id TEXT NOT NULL,
		vendor_user_id TEXT NOT NULL,
		counterparty_user_id TEXT NOT NULL,

		-- Frozen at creation; the ad may change afterwards
		ad_type TEXT NOT NULL,
		blockchain TEXT NOT NULL,
		crypto_currency TEXT NOT NULL,
		fiat_currency TEXT NOT NULL,
		crypto_amount TEXT NOT NULL,
		fiat_amount TEXT NOT NULL,
		price TEXT NOT NULL,
		processing_time INTEGER NOT NULL,

		-- Matched vendor method plus the counterparty's own method
		payment_method_id TEXT NOT NULL,
		counterparty_method_id TEXT NOT NULL,
		payment_channel TEXT NOT NULL,

		status TEXT NOT NULL DEFAULT 'pending',

		-- Cache of role resolution; adType remains the source of truth
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,

		metadata TEXT,

		created_at INTEGER NOT NULL,
		accepted_at INTEGER,
		expires_at INTEGER,
		payment_made_at INTEGER,
		payment_received_at INTEGER,
		completed_at INTEGER,
		cancelled_at INTEGER,
		updated_at INTEGER,

		FOREIGN KEY (ad_id) REFERENCES p2p_ads(id),
		FOREIGN KEY (vendor_user_id) REFERENCES users(id),
		FOREIGN KEY (counterparty_user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_p2p_orders_ad ON p2p_orders(ad_id);
	CREATE INDEX IF NOT EXISTS idx_p2p_orders_status ON p2p_orders(status);
	CREATE INDEX IF NOT EXISTS idx_p2p_orders_vendor ON p2p_orders(vendor_user_id);
	CREATE INDEX IF NOT EXISTS idx_p2p_orders_counterparty ON p2p_orders(counterparty_user_id);
	CREATE INDEX IF NOT EXISTS idx_p2p_orders_expires ON p2p_orders(status, expires_at);

	-- One chat thread per order; message delivery happens elsewhere
	CREATE TABLE IF NOT EXISTS chat_threads (
		id TEXT PRIMARY KEY,
		order_id TEXT UNIQUE NOT NULL,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (order_id) REFERENCES p2p_orders(id)
	);

	-- =========================================================================
	-- Payment Methods
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS payment_methods (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		method_type TEXT NOT NULL,

		bank_name TEXT,
		provider_id TEXT,
		currency TEXT,

		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_payment_methods_user ON payment_methods(user_id);

	-- =========================================================================
	-- Provisioning Job Queue (at-least-once, per-user idempotent)
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		payload TEXT,

		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER NOT NULL,
		last_error TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		UNIQUE(job_type, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(status, next_retry_at)
		WHERE status = 'pending';
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
