package resultdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thetaauto/domain/histogram"
	"thetaauto/internal/errors"
	"thetaauto/ports"
)

func writeProducts(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bayes_limit-signal-data.db")
	db, err := sqlx.Open(DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE products (runid INTEGER, eventid INTEGER, bayes__quant09500 DOUBLE, mle__beta_signal DOUBLE)`)
	require.NoError(t, err)
	rows := [][]interface{}{
		{1, 1, 2.5, 1.0},
		{1, 2, 3.5, nil},
		{1, 3, 4.0, 0.5},
	}
	for _, r := range rows {
		_, err = db.Exec(db.Rebind(`INSERT INTO products VALUES (?, ?, ?, ?)`), r...)
		require.NoError(t, err)
	}
	return path
}

func TestColumn(t *testing.T) {
	ctx := context.Background()
	r, err := Open(ctx, DriverSQLite, writeProducts(t))
	require.NoError(t, err)
	defer r.Close()

	values, err := r.Column(ctx, "products", "bayes__quant09500")
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 3.5, 4.0}, values)

	rows, err := r.Columns(ctx, "products", "eventid", "mle__beta_signal")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1.0}, {3, 0.5}}, rows)

	tables, err := r.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"products"}, tables)
}

func TestHistograms(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "posteriors-data.db")
	db, err := sqlx.Open(DriverSQLite, path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE products (runid INTEGER, p__posterior_jes BLOB)`)
	require.NoError(t, err)
	posterior := histogram.MustNew(-3, 3, []float64{0.5, 2, 1})
	for _, blob := range []interface{}{EncodeHistogram(posterior), nil} {
		_, err = db.Exec(db.Rebind(`INSERT INTO products VALUES (1, ?)`), blob)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	r, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer r.Close()

	histos, err := r.Histograms(ctx, "products", "p__posterior_jes")
	require.NoError(t, err)
	require.Len(t, histos, 1)
	assert.Equal(t, posterior, histos[0])

	_, err = r.Histograms(ctx, "products", "p__posterior_jes; DROP")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestDecodeHistogram(t *testing.T) {
	_, err := DecodeHistogram(make([]byte, 12))
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	h, err := DecodeHistogram(EncodeHistogram(histogram.MustNew(0, 1, []float64{3})))
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, h.Bins)
}

func TestRejectsUnsafeIdentifiers(t *testing.T) {
	ctx := context.Background()
	r, err := Open(ctx, DriverSQLite, writeProducts(t))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Column(ctx, "products; DROP TABLE products", "x")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	_, err = r.Columns(ctx, "products")
	assert.Error(t, err)
	_, err = r.Column(ctx, "products", "missing_column")
	assert.Error(t, err)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, "mysql", "x")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	_, err = Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "missing.db"))
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	var opener ports.ResultOpener = Opener{Driver: DriverSQLite}
	reader, err := opener.OpenResults(ctx, writeProducts(t))
	require.NoError(t, err)
	assert.NoError(t, reader.Close())
}
