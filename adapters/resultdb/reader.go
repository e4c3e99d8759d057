// Package resultdb reads the tables written by the inference engine. The
// engine writes sqlite files; postgres is supported for its database output plugin.
package resultdb

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"thetaauto/internal/errors"
	"thetaauto/ports"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdentifier(name string) error {
	if !identifier.MatchString(name) {
		return errors.InvalidInput(fmt.Sprintf("invalid identifier %q", name))
	}
	return nil
}

// Reader is a read-only view on one result database
type Reader struct {
	db     *sqlx.DB
	driver string
}

// Open connects to a result database. For sqlite, dsn is the file path.
func Open(ctx context.Context, driver, dsn string) (*Reader, error) {
	switch driver {
	case DriverSQLite:
		if _, err := os.Stat(dsn); err != nil {
			return nil, errors.Wrapf(errors.WithCode(errors.CodeNotFound, err), "result database %s", dsn)
		}
	case DriverPostgres:
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unknown results driver %q", driver))
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "failed to open result database %s", dsn)
	}
	return &Reader{db: db, driver: driver}, nil
}

// Opener opens result databases of a fixed driver
type Opener struct {
	Driver string
}

// OpenResults opens the database at path
func (o Opener) OpenResults(ctx context.Context, path string) (ports.ResultReader, error) {
	r, err := Open(ctx, o.Driver, path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the connection
func (r *Reader) Close() error {
	return r.db.Close()
}

// Tables lists the tables of the database in name order
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`
	if r.driver == DriverPostgres {
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
	}
	var names []string
	if err := r.db.SelectContext(ctx, &names, query); err != nil {
		return nil, errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to list tables")
	}
	return names, nil
}

// Column returns the values of column in row order
func (r *Reader) Column(ctx context.Context, table, column string) ([]float64, error) {
	rows, err := r.Columns(ctx, table, column)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(rows))
	for i, row := range rows {
		result[i] = row[0]
	}
	return result, nil
}

// Columns returns the selected columns, one slice per row. Rows with NULL
// in any selected column are skipped.
func (r *Reader) Columns(ctx context.Context, table string, columns ...string) ([][]float64, error) {
	if len(columns) == 0 {
		return nil, errors.InvalidInput("no columns selected")
	}
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	for _, c := range columns {
		if err := checkIdentifier(c); err != nil {
			return nil, err
		}
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(columns, ", "), table)
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "failed to query %s", table)
	}
	defer rows.Close()

	var result [][]float64
	for rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return nil, errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "failed to scan %s", table)
		}
		row, ok, err := toFloats(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s", table)
		}
		if ok {
			result = append(result, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	return result, nil
}

func toFloats(raw []interface{}) ([]float64, bool, error) {
	row := make([]float64, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case nil:
			return nil, false, nil
		case float64:
			row[i] = x
		case float32:
			row[i] = float64(x)
		case int64:
			row[i] = float64(x)
		case []byte:
			if _, err := fmt.Sscan(string(x), &row[i]); err != nil {
				return nil, false, errors.InvalidInput(fmt.Sprintf("non-numeric value %q", x))
			}
		default:
			return nil, false, errors.InvalidInput(fmt.Sprintf("non-numeric value of type %T", v))
		}
	}
	return row, true, nil
}
