package ledger

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/playquickdraw/backend/internal/models"
)

// Ledger is the Postgres reconciliation trail for executed payouts. The
// match record in Redis stays authoritative for outcome and receipt; ledger
// rows exist so finance can audit money movement independently of the store.
type Ledger struct {
	db *sqlx.DB
}

// New wraps a database handle. Returns nil for a nil handle so callers can
// run without Postgres in development.
func New(db *sqlx.DB) *Ledger {
	if db == nil {
		return nil
	}
	return &Ledger{db: db}
}

// RecordSettlement inserts the payout row for a settled match. At most one
// row per match (unique match_id, conflicts ignored). Best-effort by
// contract: failures are logged, never propagated. Satisfies
// duel.SettlementSink.
func (l *Ledger) RecordSettlement(ctx context.Context, m *models.Match) {
	if l == nil || m.PayoutRef == "" || m.Winner == "" {
		return
	}
	fee := m.Stake * int64(m.FeeBps) / 10000
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO settlements (match_id, winner, winner_account, gross_amount, fee_amount, net_amount, payout_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (match_id) DO NOTHING
	`, m.ID, m.Winner, m.AccountOf(m.Winner), 2*m.Stake, 2*fee, m.NetPot(), m.PayoutRef)
	if err != nil {
		log.Printf("[LEDGER] Failed to record settlement for match %s: %v", m.ID, err)
		return
	}
	log.Printf("[LEDGER] Settlement recorded for match %s", m.ID)
}

// Recent returns the newest ledger rows with pagination.
func (l *Ledger) Recent(ctx context.Context, limit, offset int) ([]models.SettlementRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.SettlementRecord
	err := l.db.SelectContext(ctx, &rows, `
		SELECT id, match_id, winner, winner_account, gross_amount, fee_amount, net_amount, payout_ref, created_at
		FROM settlements
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return rows, err
}

// ByMatch returns the ledger row for one match, if any.
func (l *Ledger) ByMatch(ctx context.Context, matchID string) (*models.SettlementRecord, error) {
	var row models.SettlementRecord
	err := l.db.GetContext(ctx, &row, `
		SELECT id, match_id, winner, winner_account, gross_amount, fee_amount, net_amount, payout_ref, created_at
		FROM settlements
		WHERE match_id = $1
	`, matchID)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
