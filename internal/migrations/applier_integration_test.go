//go:build integration

package migrations_test

import (
	"context"
	"os"
	"testing"
	"testing/fstest"

	"github.com/sqlwarden/swd/internal/migrations"
	"github.com/sqlwarden/swd/internal/testutil"
)

var sharedPG *testutil.PGContainer

func TestMain(m *testing.M) {
	ctx := context.Background()
	pg, cleanup := testutil.StartPostgresForTestMain(ctx)
	sharedPG = pg
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// resetDB drops and recreates the public schema for test isolation.
func resetDB(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := sharedPG.Pool.Exec(ctx, "DROP SCHEMA public CASCADE; CREATE SCHEMA public")
	if err != nil {
		t.Fatalf("resetting schema: %v", err)
	}
}

func tableExists(t *testing.T, ctx context.Context, name string) bool {
	t.Helper()
	var exists bool
	err := sharedPG.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)", name).
		Scan(&exists)
	testutil.NoError(t, err)
	return exists
}

func twoFileFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/001_cities.sql": &fstest.MapFile{Data: []byte(`
-- city reference data
CREATE TABLE cities (
	id INT PRIMARY KEY,
	population INT NOT NULL
);

INSERT INTO cities VALUES (1, 100);
`)},
		"sql/002_rollup.sql": &fstest.MapFile{Data: []byte(`
CREATE TABLE daily_rollup (day DATE, n BIGINT);
`)},
	}
}

func TestApplyCreatesTrackingTable(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	applier := migrations.NewApplierWithFS(sharedPG.Pool, "sql", twoFileFS(), testutil.DiscardLogger())
	_, err := applier.Apply(ctx)
	testutil.NoError(t, err)
	testutil.True(t, tableExists(t, ctx, "_swd_migrations"), "_swd_migrations table should exist")
}

func TestApplyThenRerunAppliesNothing(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	applier := migrations.NewApplierWithFS(sharedPG.Pool, "sql", twoFileFS(), testutil.DiscardLogger())

	applied, err := applier.Apply(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, 2, applied)
	testutil.True(t, tableExists(t, ctx, "cities"), "cities should exist")
	testutil.True(t, tableExists(t, ctx, "daily_rollup"), "daily_rollup should exist")

	// Second run over the same directory changes nothing.
	applied, err = applier.Apply(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, 0, applied)

	var n int
	err = sharedPG.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM cities").Scan(&n)
	testutil.NoError(t, err)
	testutil.Equal(t, 1, n)
}

func TestApplyPicksUpNewFiles(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	fsys := fstest.MapFS{
		"sql/001_cities.sql": twoFileFS()["sql/001_cities.sql"],
	}
	applier := migrations.NewApplierWithFS(sharedPG.Pool, "sql", fsys, testutil.DiscardLogger())

	applied, err := applier.Apply(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, 1, applied)

	fsys["sql/002_rollup.sql"] = twoFileFS()["sql/002_rollup.sql"]
	applied, err = applier.Apply(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, 1, applied)
	testutil.True(t, tableExists(t, ctx, "daily_rollup"), "daily_rollup should exist")
}

func TestApplyRollsBackFailedFile(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	fsys := fstest.MapFS{
		"sql/001_bad.sql": &fstest.MapFile{Data: []byte(`
CREATE TABLE cities (id INT PRIMARY KEY);

SELECT definitely_invalid_sql();
`)},
	}
	applier := migrations.NewApplierWithFS(sharedPG.Pool, "sql", fsys, testutil.DiscardLogger())

	applied, err := applier.Apply(ctx)
	testutil.Equal(t, 0, applied)
	testutil.ErrorContains(t, err, "001_bad.sql")

	// The first statement's table must be gone with the transaction.
	testutil.False(t, tableExists(t, ctx, "cities"), "cities should have been rolled back")

	var tracked int
	err = sharedPG.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM _swd_migrations").Scan(&tracked)
	testutil.NoError(t, err)
	testutil.Equal(t, 0, tracked)
}

func TestApplyHaltsAfterFailure(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	fsys := twoFileFS()
	fsys["sql/001a_broken.sql"] = &fstest.MapFile{Data: []byte("SELECT definitely_invalid_sql();\n")}

	applier := migrations.NewApplierWithFS(sharedPG.Pool, "sql", fsys, testutil.DiscardLogger())

	applied, err := applier.Apply(ctx)
	testutil.Equal(t, 1, applied)
	testutil.ErrorContains(t, err, "001a_broken.sql")

	// 001 landed, 002 never ran.
	testutil.True(t, tableExists(t, ctx, "cities"), "cities should exist")
	testutil.False(t, tableExists(t, ctx, "daily_rollup"), "daily_rollup should not exist after halt")
}

func TestApplyMissingDirectory(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	applier := migrations.NewApplierWithFS(sharedPG.Pool, "nope", fstest.MapFS{}, testutil.DiscardLogger())
	applied, err := applier.Apply(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, 0, applied)
}

func TestApplyEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	fsys := fstest.MapFS{
		"sql/readme.txt": &fstest.MapFile{Data: []byte("no migrations here")},
	}
	applier := migrations.NewApplierWithFS(sharedPG.Pool, "sql", fsys, testutil.DiscardLogger())
	applied, err := applier.Apply(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, 0, applied)
}

func TestApplied(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	applier := migrations.NewApplierWithFS(sharedPG.Pool, "sql", twoFileFS(), testutil.DiscardLogger())

	// Before any apply the list is empty (and the table gets created).
	rows, err := applier.Applied(ctx)
	testutil.NoError(t, err)
	testutil.SliceLen(t, rows, 0)

	_, err = applier.Apply(ctx)
	testutil.NoError(t, err)

	rows, err = applier.Applied(ctx)
	testutil.NoError(t, err)
	testutil.SliceLen(t, rows, 2)
	testutil.Equal(t, "001_cities.sql", rows[0].Filename)
	testutil.Equal(t, "002_rollup.sql", rows[1].Filename)
	testutil.False(t, rows[0].AppliedAt.IsZero(), "applied_at should be set")
}
