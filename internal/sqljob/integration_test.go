//go:build integration

package sqljob_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"testing/fstest"

	"github.com/sqlwarden/swd/internal/sqljob"
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

func newStore(t *testing.T, ctx context.Context) *sqljob.Store {
	t.Helper()
	store := sqljob.NewStore(sharedPG.Pool)
	testutil.NoError(t, store.Bootstrap(ctx))
	return store
}

// createPopulatedMatview builds a matview with the unique index that
// REFRESH CONCURRENTLY requires.
func createPopulatedMatview(t *testing.T, ctx context.Context, name string) {
	t.Helper()
	_, err := sharedPG.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS cities (id INT PRIMARY KEY, population INT)`)
	testutil.NoError(t, err)
	_, err = sharedPG.Pool.Exec(ctx, `INSERT INTO cities VALUES (1, 100), (2, 200) ON CONFLICT DO NOTHING`)
	testutil.NoError(t, err)
	_, err = sharedPG.Pool.Exec(ctx, `CREATE MATERIALIZED VIEW `+name+` AS SELECT id, population FROM cities`)
	testutil.NoError(t, err)
	_, err = sharedPG.Pool.Exec(ctx, `CREATE UNIQUE INDEX ON `+name+` (id)`)
	testutil.NoError(t, err)
}

func TestBootstrapIdempotent(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)

	store := sqljob.NewStore(sharedPG.Pool)
	testutil.NoError(t, store.Bootstrap(ctx))
	testutil.NoError(t, store.Bootstrap(ctx))

	var exists bool
	err := sharedPG.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = '_swd_job_runs')").
		Scan(&exists)
	testutil.NoError(t, err)
	testutil.True(t, exists, "_swd_job_runs table should exist")
}

func TestRecordAndRecentRuns(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)

	def := sqljob.Definition{
		Name:       "rollup",
		Type:       sqljob.JobTypeTable,
		Object:     "daily_rollup",
		SourceFile: "jobs/rollup.sql",
		RefreshSQL: "INSERT INTO daily_rollup SELECT 1",
	}
	ok := sqljob.Execute(ctx, sharedPG.Pool, sqljob.Definition{
		Name: "noop", Type: sqljob.JobTypeTable, Object: "t", RefreshSQL: "SELECT 1",
	})
	testutil.NoError(t, store.RecordResult(ctx, sharedPG.Pool, ok))

	rows := int64(3)
	failed := sqljob.Result{
		Definition:   def,
		StartedAt:    ok.StartedAt,
		FinishedAt:   ok.FinishedAt,
		DurationMs:   12,
		RowsAffected: &rows,
		Success:      false,
		Message:      `relation "daily_rollup" does not exist`,
	}
	testutil.NoError(t, store.RecordResult(ctx, sharedPG.Pool, failed))

	runs, err := store.RecentRuns(ctx, 10)
	testutil.NoError(t, err)
	testutil.SliceLen(t, runs, 2)

	// Newest first.
	testutil.Equal(t, "rollup", runs[0].JobName)
	testutil.Equal(t, "table", runs[0].JobType)
	testutil.Equal(t, "daily_rollup", runs[0].ObjectName)
	testutil.Equal(t, "jobs/rollup.sql", runs[0].SourceFile)
	testutil.False(t, runs[0].Success)
	testutil.Contains(t, runs[0].Message, "does not exist")
	testutil.NotNil(t, runs[0].RowsAffected)
	testutil.Equal(t, int64(3), *runs[0].RowsAffected)

	testutil.Equal(t, "noop", runs[1].JobName)
	testutil.True(t, runs[1].Success)
	testutil.Nil(t, runs[1].RowsAffected)
}

func TestRecentRunsLimit(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)

	for i := 0; i < 5; i++ {
		res := sqljob.Execute(ctx, sharedPG.Pool, sqljob.Definition{
			Name: "noop", Type: sqljob.JobTypeTable, Object: "t", RefreshSQL: "SELECT 1",
		})
		testutil.NoError(t, store.RecordResult(ctx, sharedPG.Pool, res))
	}

	runs, err := store.RecentRuns(ctx, 2)
	testutil.NoError(t, err)
	testutil.SliceLen(t, runs, 2)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)

	stats, err := store.Stats(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, int64(0), stats.Total)
	testutil.Nil(t, stats.LastStarted)

	good := sqljob.Execute(ctx, sharedPG.Pool, sqljob.Definition{
		Name: "good", Type: sqljob.JobTypeTable, Object: "t", RefreshSQL: "SELECT 1",
	})
	bad := sqljob.Execute(ctx, sharedPG.Pool, sqljob.Definition{
		Name: "bad", Type: sqljob.JobTypeTable, Object: "t", RefreshSQL: "INSERT INTO missing VALUES (1)",
	})
	testutil.NoError(t, store.RecordResult(ctx, sharedPG.Pool, good))
	testutil.NoError(t, store.RecordResult(ctx, sharedPG.Pool, bad))

	stats, err = store.Stats(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, int64(2), stats.Total)
	testutil.Equal(t, int64(1), stats.Succeeded)
	testutil.Equal(t, int64(1), stats.Failed)
	testutil.NotNil(t, stats.LastStarted)
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)

	_, err := sharedPG.Pool.Exec(ctx, `CREATE TABLE daily_rollup (day DATE, n BIGINT)`)
	testutil.NoError(t, err)
	createPopulatedMatview(t, ctx, "mv_population")

	fsys := fstest.MapFS{
		"jobs/10_rollup.sql": &fstest.MapFile{Data: []byte(
			"-- @name rollup\n" +
				"-- @type table\n" +
				"-- @object daily_rollup\n" +
				"-- @refresh_sql INSERT INTO daily_rollup VALUES (now(), 1), (now(), 2), (now(), 3)\n",
		)},
		"jobs/20_broken.sql": &fstest.MapFile{Data: []byte(
			"-- @name broken\n" +
				"-- @type table\n" +
				"-- @object missing_table\n" +
				"-- @refresh_sql INSERT INTO missing_table VALUES (1)\n",
		)},
		"jobs/30_popview.sql": &fstest.MapFile{Data: []byte(
			"-- @name pop_trend\n" +
				"-- @type materialized_view\n" +
				"-- @object mv_population\n",
		)},
	}
	loader := sqljob.NewLoaderWithFS("jobs", fsys, testutil.DiscardLogger())
	svc := sqljob.NewService(loader, store, sharedPG.Pool, testutil.DiscardLogger())

	results, err := svc.RunBatch(ctx)
	testutil.NoError(t, err)
	testutil.SliceLen(t, results, 3)

	// The failing middle job must not stop the jobs after it.
	testutil.True(t, results[0].Success, "rollup should succeed")
	testutil.False(t, results[1].Success, "broken should fail")
	testutil.True(t, results[2].Success, "pop_trend should succeed after a failure")

	testutil.NotNil(t, results[0].RowsAffected)
	testutil.Equal(t, int64(3), *results[0].RowsAffected)
	testutil.Contains(t, results[1].Message, "missing_table")

	// Every outcome lands in the audit trail, failures included.
	runs, err := store.RecentRuns(ctx, 10)
	testutil.NoError(t, err)
	testutil.SliceLen(t, runs, 3)
	testutil.Equal(t, "pop_trend", runs[0].JobName)
	testutil.Equal(t, "broken", runs[1].JobName)
	testutil.Equal(t, "rollup", runs[2].JobName)
}

func TestRunBatchNoDefinitions(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)

	loader := sqljob.NewLoaderWithFS("jobs", fstest.MapFS{}, testutil.DiscardLogger())
	svc := sqljob.NewService(loader, store, sharedPG.Pool, testutil.DiscardLogger())

	results, err := svc.RunBatch(ctx)
	testutil.NoError(t, err)
	testutil.SliceLen(t, results, 0)
}

func TestRunJobByName(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)
	createPopulatedMatview(t, ctx, "mv_population")

	fsys := fstest.MapFS{
		"jobs/popview.sql": &fstest.MapFile{Data: []byte(
			"-- @name pop_trend\n-- @type materialized_view\n-- @object mv_population\n",
		)},
	}
	loader := sqljob.NewLoaderWithFS("jobs", fsys, testutil.DiscardLogger())
	svc := sqljob.NewService(loader, store, sharedPG.Pool, testutil.DiscardLogger())

	res, err := svc.RunJob(ctx, "pop_trend")
	testutil.NoError(t, err)
	testutil.True(t, res.Success)

	runs, err := store.RecentRuns(ctx, 10)
	testutil.NoError(t, err)
	testutil.SliceLen(t, runs, 1)

	_, err = svc.RunJob(ctx, "unknown")
	testutil.True(t, errors.Is(err, sqljob.ErrJobNotFound))
}

func TestRefreshViewsDirectMode(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)
	createPopulatedMatview(t, ctx, "mv_population")

	loader := sqljob.NewLoaderWithFS("jobs", fstest.MapFS{}, testutil.DiscardLogger())
	svc := sqljob.NewService(loader, store, sharedPG.Pool, testutil.DiscardLogger())

	results, err := svc.RefreshViews(ctx, []string{"mv_population", "bad name; drop"})
	testutil.NoError(t, err)

	// The unsafe name is skipped before touching the database.
	testutil.SliceLen(t, results, 1)
	testutil.True(t, results[0].Success)
	testutil.Equal(t, "mv_population", results[0].Definition.Name)

	runs, err := store.RecentRuns(ctx, 10)
	testutil.NoError(t, err)
	testutil.SliceLen(t, runs, 1)
	testutil.Equal(t, "materialized_view", runs[0].JobType)
	testutil.Equal(t, "mv_population", runs[0].ObjectName)
	testutil.Equal(t, "", runs[0].SourceFile)
}

func TestRunProcedure(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	store := newStore(t, ctx)

	_, err := sharedPG.Pool.Exec(ctx, `CREATE TABLE sweep_log (at TIMESTAMPTZ DEFAULT now())`)
	testutil.NoError(t, err)
	// Mixed-case name: only reachable through quote_ident quoting.
	_, err = sharedPG.Pool.Exec(ctx,
		`CREATE PROCEDURE "Sweep_Old"() LANGUAGE SQL AS $$ INSERT INTO sweep_log DEFAULT VALUES $$`)
	testutil.NoError(t, err)

	loader := sqljob.NewLoaderWithFS("jobs", fstest.MapFS{}, testutil.DiscardLogger())
	svc := sqljob.NewService(loader, store, sharedPG.Pool, testutil.DiscardLogger())

	testutil.NoError(t, svc.RunProcedure(ctx, "retention_maintenance", "Sweep_Old"))

	var count int
	err = sharedPG.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM sweep_log`).Scan(&count)
	testutil.NoError(t, err)
	testutil.Equal(t, 1, count)

	// Empty procedure name is a configured no-op.
	testutil.NoError(t, svc.RunProcedure(ctx, "retention_maintenance", ""))

	err = svc.RunProcedure(ctx, "retention_maintenance", "does_not_exist")
	testutil.ErrorContains(t, err, "does_not_exist")
}
