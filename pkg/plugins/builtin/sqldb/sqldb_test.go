package sqldb

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

func setupMock(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d := New(db, nil)
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return d, mock
}

func TestGetPackage(t *testing.T) {
	d, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT document FROM packages WHERE name = $1`)).
		WithArgs("left-pad").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).
			AddRow(`{"name":"left-pad","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{"name":"left-pad","version":"1.0.0","dist":{"tarball":"t"}}}}`))

	pkg, err := d.GetPackage(context.Background(), "left-pad")
	require.NoError(t, err)
	assert.Equal(t, "left-pad", pkg.Name)
	assert.Equal(t, "1.0.0", pkg.DistTags["latest"])
	assert.Contains(t, pkg.Versions, "1.0.0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPackage_NotFound(t *testing.T) {
	d, mock := setupMock(t)

	mock.ExpectQuery(`SELECT document FROM packages`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	_, err := d.GetPackage(context.Background(), "missing")
	assert.ErrorIs(t, err, plugins.ErrNotFound)
}

func TestGetPackage_QueryError(t *testing.T) {
	d, mock := setupMock(t)

	mock.ExpectQuery(`SELECT document FROM packages`).
		WillReturnError(errors.New("connection reset"))

	_, err := d.GetPackage(context.Background(), "left-pad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, plugins.ErrNotFound)
}

func TestPutPackage(t *testing.T) {
	d, mock := setupMock(t)

	mock.ExpectExec(`INSERT INTO packages`).
		WithArgs("left-pad", sqlmock.AnyArg(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	pkg := &plugins.Package{Name: "left-pad"}
	require.NoError(t, d.PutPackage(context.Background(), pkg))
	assert.False(t, pkg.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPackages(t *testing.T) {
	d, mock := setupMock(t)

	mock.ExpectQuery(`SELECT name FROM packages ORDER BY name`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))

	names, err := d.ListPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	assert.NoError(t, New(db, nil).HealthCheck(context.Background()))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported driver")
}

// Runs against a real in-memory SQLite database through the registered export
func TestExport_SQLite(t *testing.T) {
	ctx := context.Background()
	inst, err := Export().Init(ctx, plugins.InitParams{
		ID:     "db",
		Config: plugins.Config{"driver": "sqlite3", "dsn": "file::memory:?cache=shared", "max_open_conns": 1},
	})
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED=0") {
		t.Skip("sqlite3 driver requires cgo")
	}
	require.NoError(t, err)

	d := inst.(*Database)
	defer d.Close()

	pkg := &plugins.Package{
		Name:     "left-pad",
		DistTags: map[string]string{"latest": "1.0.0"},
		Versions: map[string]*plugins.Version{"1.0.0": {Name: "left-pad", Version: "1.0.0"}},
	}
	require.NoError(t, d.PutPackage(ctx, pkg))

	pkg.DistTags["latest"] = "1.0.1"
	pkg.Versions["1.0.1"] = &plugins.Version{Name: "left-pad", Version: "1.0.1"}
	require.NoError(t, d.PutPackage(ctx, pkg))

	got, err := d.GetPackage(ctx, "left-pad")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", got.DistTags["latest"])
	assert.Len(t, got.Versions, 2)

	names, err := d.ListPackages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"left-pad"}, names)

	assert.NoError(t, d.HealthCheck(ctx))
}
