// Package storage - Ledger entry operations.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// TxType represents a ledger entry type.
type TxType string

const (
	TxTypeDeposit     TxType = "deposit"
	TxTypeWithdrawal  TxType = "withdrawal"
	TxTypeTransfer    TxType = "transfer"
	TxTypeConversion  TxType = "conversion"
	TxTypeP2P         TxType = "p2p"
	TxTypeBillPayment TxType = "bill_payment"
)

// TxStatus represents a ledger entry status.
type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusProcessing TxStatus = "processing"
	TxStatusCompleted  TxStatus = "completed"
	TxStatusFailed     TxStatus = "failed"
)

// P2PStep tags the leg a P2P ledger entry records.
type P2PStep string

const (
	StepOrderAccepted   P2PStep = "order_accepted"
	StepPaymentReceived P2PStep = "payment_received"
	StepCryptoFrozen    P2PStep = "crypto_frozen"
	StepCryptoDebited   P2PStep = "crypto_debited"
	StepCryptoCredited  P2PStep = "crypto_credited"
	StepFiatSent        P2PStep = "fiat_sent"
	StepFiatReceived    P2PStep = "fiat_received"
	StepFiatDebited     P2PStep = "fiat_debited"
	StepFiatCredited    P2PStep = "fiat_credited"
)

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID       string
	WalletID string
	Type     TxType
	Status   TxStatus

	Amount   money.Money // signed
	Currency string
	Fee      money.Money

	Reference   string
	Channel     string
	Description string

	P2PStep       P2PStep
	CorrelationID string
	Metadata      map[string]string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// InsertTransaction appends a ledger entry. A duplicate reference
// returns errs.ErrDuplicateKey.
func (s *Storage) InsertTransaction(ctx context.Context, t *Transaction) error {
	var metadata *string
	if len(t.Metadata) > 0 {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		str := string(b)
		metadata = &str
	}

	var completedAt *int64
	if t.CompletedAt != nil {
		ts := t.CompletedAt.Unix()
		completedAt = &ts
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, wallet_id, tx_type, status, amount, currency, fee,
			reference, channel, description, p2p_step, correlation_id,
			metadata, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.WalletID, t.Type, t.Status,
		t.Amount.String(), t.Currency, t.Fee.String(),
		t.Reference, nullStr(t.Channel), nullStr(t.Description),
		nullStr(string(t.P2PStep)), nullStr(t.CorrelationID),
		metadata, t.CreatedAt.Unix(), completedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", mapSQLError(err))
	}
	return nil
}

const txColumns = `id, wallet_id, tx_type, status, amount, currency, fee,
	reference, channel, description, p2p_step, correlation_id,
	metadata, created_at, completed_at`

// GetTransaction retrieves a ledger entry by ID.
func (s *Storage) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", mapSQLError(err))
	}
	return t, nil
}

// GetTransactionByReference retrieves a ledger entry by its unique reference.
func (s *Storage) GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference = ?`, reference)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reference %s: %w", reference, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", mapSQLError(err))
	}
	return t, nil
}

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	WalletIDs []string
	Types     []TxType
	Status    TxStatus
	Start     *time.Time // inclusive
	End       *time.Time // inclusive
	Limit     int
	Offset    int
}

// ListTransactions returns ledger entries matching the filter, newest first.
func (s *Storage) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE 1=1`
	args := []interface{}{}

	if len(filter.WalletIDs) > 0 {
		query += ` AND wallet_id IN (` + placeholders(len(filter.WalletIDs)) + `)`
		for _, id := range filter.WalletIDs {
			args = append(args, id)
		}
	}
	if len(filter.Types) > 0 {
		query += ` AND tx_type IN (` + placeholders(len(filter.Types)) + `)`
		for _, tt := range filter.Types {
			args = append(args, tt)
		}
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Start != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Start.Unix())
	}
	if filter.End != nil {
		query += ` AND created_at <= ?`
		args = append(args, filter.End.Unix())
	}

	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", mapSQLError(err))
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SumCompletedAmounts returns the signed sum of completed entry amounts
// minus completed fees for a wallet, computed with decimal arithmetic.
// Used by the per-wallet reconciliation check.
func (s *Storage) SumCompletedAmounts(ctx context.Context, walletID string) (money.Money, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT amount, fee FROM transactions WHERE wallet_id = ? AND status = ?
	`, walletID, TxStatusCompleted)
	if err != nil {
		return money.Zero(), fmt.Errorf("failed to sum transactions: %w", mapSQLError(err))
	}
	defer rows.Close()

	sum := money.Zero()
	for rows.Next() {
		var amountStr, feeStr string
		if err := rows.Scan(&amountStr, &feeStr); err != nil {
			return money.Zero(), fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := money.Parse(amountStr)
		if err != nil {
			return money.Zero(), fmt.Errorf("%w: stored amount %q", errs.ErrInternal, amountStr)
		}
		fee, err := money.Parse(feeStr)
		if err != nil {
			return money.Zero(), fmt.Errorf("%w: stored fee %q", errs.ErrInternal, feeStr)
		}
		sum = sum.Add(amount).Sub(fee)
	}
	return sum, rows.Err()
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var amount, fee string
	var channel, description, step, correlationID, metadata sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	err := row.Scan(&t.ID, &t.WalletID, &t.Type, &t.Status, &amount, &t.Currency, &fee,
		&t.Reference, &channel, &description, &step, &correlationID,
		&metadata, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Amount, err = money.Parse(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: stored amount %q", errs.ErrInternal, amount)
	}
	t.Fee, err = money.Parse(fee)
	if err != nil {
		return nil, fmt.Errorf("%w: stored fee %q", errs.ErrInternal, fee)
	}

	t.Channel = channel.String
	t.Description = description.String
	t.P2PStep = P2PStep(step.String)
	t.CorrelationID = correlationID.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	t.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		t.CompletedAt = &ts
	}
	return &t, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
