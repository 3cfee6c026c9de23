package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"SiteLend/internal/site"
)

// OperationLogWriter writes operation records and liquidation records to
// Postgres using multi-row INSERT. Switch to pgx CopyFrom if throughput
// ever demands it.
type OperationLogWriter struct {
	db *sql.DB
}

// OperationRow is a row in site_ops.operations.
type OperationRow struct {
	OpID    string
	Seq     int64
	Site    string
	Action  string
	UserID  string
	Asset   string
	Amount  int64
	Shares  int64
	Success bool
	Error   string
	Time    time.Time
}

// LiquidationRow is a row in site_ops.liquidations.
type LiquidationRow struct {
	LiquidationID string
	Site          string
	UserID        string
	Liquidator    string
	DebtRepaid    int64
	SeizedYes     int64
	SeizedNo      int64
	SeizedQuote   int64
	BonusBps      int64
	BadDebt       int64
	Flash         bool
	Time          time.Time
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// FromRecord converts an engine record to a row, assigning the op id.
func FromRecord(rec site.OperationRecord) OperationRow {
	return OperationRow{
		OpID:    uuid.NewString(),
		Seq:     int64(rec.Seq),
		Site:    rec.Site,
		Action:  rec.Action,
		UserID:  rec.User,
		Asset:   rec.Asset,
		Amount:  rec.Amount,
		Shares:  rec.Shares,
		Success: rec.Success,
		Error:   rec.Error,
		Time:    rec.Time,
	}
}

// FromResult converts a liquidation result to a row, assigning the id.
func FromResult(conditionID string, res *site.LiquidationResult, at time.Time) LiquidationRow {
	return LiquidationRow{
		LiquidationID: uuid.NewString(),
		Site:          conditionID,
		UserID:        res.User,
		Liquidator:    res.Liquidator,
		DebtRepaid:    res.DebtRepaid,
		SeizedYes:     res.SeizedYes,
		SeizedNo:      res.SeizedNo,
		SeizedQuote:   res.SeizedQuote,
		BonusBps:      res.BonusBps,
		BadDebt:       res.BadDebt,
		Flash:         res.Flash,
		Time:          at,
	}
}

// WriteOperationBatch writes a batch of operation rows inside tx.
// (site, seq) conflicts are dropped so replays stay idempotent.
func (w *OperationLogWriter) WriteOperationBatch(ctx context.Context, tx *sql.Tx, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO site_ops.operations
		(op_id, seq, site, action, user_id, asset, amount, shares, success, error, created_at)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*11)

	for i, o := range ops {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			o.OpID, o.Seq, o.Site, o.Action, o.UserID, o.Asset,
			o.Amount, o.Shares, o.Success, o.Error, o.Time,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (site, seq) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteLiquidationBatch writes a batch of liquidation rows inside tx.
func (w *OperationLogWriter) WriteLiquidationBatch(ctx context.Context, tx *sql.Tx, rows []LiquidationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO site_ops.liquidations
		(liquidation_id, site, user_id, liquidator, debt_repaid, seized_yes, seized_no, seized_quote, bonus_bps, bad_debt, flash, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*12)

	for i, r := range rows {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			r.LiquidationID, r.Site, r.UserID, r.Liquidator,
			r.DebtRepaid, r.SeizedYes, r.SeizedNo, r.SeizedQuote,
			r.BonusBps, r.BadDebt, r.Flash, r.Time,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (liquidation_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
