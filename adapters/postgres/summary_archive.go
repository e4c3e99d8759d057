package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"thetaauto/domain/core"
	"thetaauto/domain/result"
	"thetaauto/internal/errors"
	"thetaauto/ports"
)

// SummaryArchiveImpl implements SummaryArchive over sqlx. Queries use ?
// placeholders rebound for the connected driver.
type SummaryArchiveImpl struct {
	db *sqlx.DB
}

// NewSummaryArchive creates a summary archive on an already migrated database
func NewSummaryArchive(db *sqlx.DB) ports.SummaryArchive {
	return &SummaryArchiveImpl{db: db}
}

type summaryRow struct {
	ID         string  `db:"id"`
	Method     string  `db:"method"`
	Signal     string  `db:"signal_process"`
	Input      string  `db:"input"`
	Quantity   string  `db:"quantity"`
	N          int     `db:"n"`
	Mean       float64 `db:"mean"`
	Width      float64 `db:"width"`
	Median     float64 `db:"median"`
	Band68Low  float64 `db:"band68_low"`
	Band68High float64 `db:"band68_high"`
	Band95Low  float64 `db:"band95_low"`
	Band95High float64 `db:"band95_high"`
	ConfigHash string  `db:"config_hash"`
	CreatedAt  int64   `db:"created_at"`
}

func toRow(s *result.Summary) summaryRow {
	return summaryRow{
		ID:         s.ID.String(),
		Method:     s.Method,
		Signal:     s.Signal,
		Input:      string(s.Input),
		Quantity:   s.Quantity,
		N:          s.N,
		Mean:       s.Mean,
		Width:      s.Width,
		Median:     s.Median,
		Band68Low:  s.Band68.Low,
		Band68High: s.Band68.High,
		Band95Low:  s.Band95.Low,
		Band95High: s.Band95.High,
		ConfigHash: s.ConfigHash.String(),
		CreatedAt:  s.CreatedAt.UnixMicro(),
	}
}

func (r summaryRow) summary() result.Summary {
	return result.Summary{
		ID:         core.RunID(r.ID),
		Method:     r.Method,
		Signal:     r.Signal,
		Input:      result.Input(r.Input),
		Quantity:   r.Quantity,
		N:          r.N,
		Mean:       r.Mean,
		Width:      r.Width,
		Median:     r.Median,
		Band68:     result.Band{Low: r.Band68Low, High: r.Band68High},
		Band95:     result.Band{Low: r.Band95Low, High: r.Band95High},
		ConfigHash: core.ConfigHash(r.ConfigHash),
		CreatedAt:  time.UnixMicro(r.CreatedAt).UTC(),
	}
}

const summaryColumns = `id, method, signal_process, input, quantity, n, mean, width, median,
	band68_low, band68_high, band95_low, band95_high, config_hash, created_at`

// Save inserts summary, assigning an ID and creation time when they are unset
func (a *SummaryArchiveImpl) Save(ctx context.Context, summary *result.Summary) error {
	if summary == nil {
		return errors.InvalidInput("nil summary")
	}
	if summary.ID.IsEmpty() {
		summary.ID = core.NewRunID()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}

	_, err := a.db.NamedExecContext(ctx, `
		INSERT INTO run_summaries (`+summaryColumns+`)
		VALUES (:id, :method, :signal_process, :input, :quantity, :n, :mean, :width, :median,
			:band68_low, :band68_high, :band95_low, :band95_high, :config_hash, :created_at)
	`, toRow(summary))
	if err != nil {
		return errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "saving summary %s", summary.ID)
	}
	return nil
}

// Get retrieves one summary by ID
func (a *SummaryArchiveImpl) Get(ctx context.Context, id core.RunID) (*result.Summary, error) {
	var row summaryRow
	err := a.db.GetContext(ctx, &row, a.db.Rebind(`SELECT `+summaryColumns+` FROM run_summaries WHERE id = ?`), id.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("summary " + id.String())
	}
	if err != nil {
		return nil, errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "loading summary %s", id)
	}
	s := row.summary()
	return &s, nil
}

// ListByMethod returns the summaries of method, newest first, optionally limited
func (a *SummaryArchiveImpl) ListByMethod(ctx context.Context, method string, limit int) ([]result.Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM run_summaries WHERE method = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{method}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []summaryRow
	if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "listing %s summaries", method)
	}

	summaries := make([]result.Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, row.summary())
	}
	return summaries, nil
}
