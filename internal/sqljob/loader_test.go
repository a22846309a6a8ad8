package sqljob

import (
	"testing"
	"testing/fstest"

	"github.com/sqlwarden/swd/internal/testutil"
)

func mapFile(data string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(data)}
}

func TestLoadSynthesizesMatviewRefresh(t *testing.T) {
	fsys := fstest.MapFS{
		"jobs/pop_trend.sql": mapFile(
			"-- @name pop_trend\n" +
				"-- @type materialized_view\n" +
				"-- @object mv_population\n",
		),
	}
	loader := NewLoaderWithFS("jobs", fsys, testutil.DiscardLogger())

	defs := loader.Load()
	testutil.SliceLen(t, defs, 1)
	testutil.Equal(t, "pop_trend", defs[0].Name)
	testutil.Equal(t, JobTypeMaterializedView, defs[0].Type)
	testutil.Equal(t, "mv_population", defs[0].Object)
	testutil.Equal(t, "REFRESH MATERIALIZED VIEW CONCURRENTLY mv_population", defs[0].RefreshSQL)
}

func TestLoadKeepsExplicitRefreshSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"jobs/rollup.sql": mapFile(
			"-- @name rollup\n" +
				"-- @type table\n" +
				"-- @object daily_rollup\n" +
				"-- @description nightly aggregate\n" +
				"-- @refresh_sql INSERT INTO daily_rollup\n" +
				"-- | SELECT day, count(*) FROM events GROUP BY day\n" +
				"\n" +
				"CREATE TABLE IF NOT EXISTS daily_rollup (day date, n bigint);\n",
		),
	}
	loader := NewLoaderWithFS("jobs", fsys, testutil.DiscardLogger())

	defs := loader.Load()
	testutil.SliceLen(t, defs, 1)
	testutil.Equal(t, "INSERT INTO daily_rollup\nSELECT day, count(*) FROM events GROUP BY day", defs[0].RefreshSQL)
	testutil.Equal(t, "nightly aggregate", defs[0].Description)
	testutil.Equal(t, "jobs/rollup.sql", defs[0].SourceFile)
}

func TestLoadSkipsIncompleteDefinitions(t *testing.T) {
	fsys := fstest.MapFS{
		// Missing @object.
		"jobs/a_incomplete.sql": mapFile(
			"-- @name incomplete\n-- @type materialized_view\n",
		),
		// Non-matview without refresh_sql has nothing to run.
		"jobs/b_norefresh.sql": mapFile(
			"-- @name norefresh\n-- @type table\n-- @object t\n",
		),
		// No annotations at all.
		"jobs/c_plain.sql": mapFile("SELECT 1;\n"),
		"jobs/d_good.sql": mapFile(
			"-- @name good\n-- @type materialized_view\n-- @object mv_ok\n",
		),
	}
	loader := NewLoaderWithFS("jobs", fsys, testutil.DiscardLogger())

	defs := loader.Load()
	testutil.SliceLen(t, defs, 1)
	testutil.Equal(t, "good", defs[0].Name)
}

func TestLoadOrdersByFileName(t *testing.T) {
	fsys := fstest.MapFS{
		"jobs/20_second.sql": mapFile("-- @name second\n-- @type materialized_view\n-- @object mv_b\n"),
		"jobs/10_first.sql":  mapFile("-- @name first\n-- @type materialized_view\n-- @object mv_a\n"),
		"jobs/notes.txt":     mapFile("not a job"),
	}
	loader := NewLoaderWithFS("jobs", fsys, testutil.DiscardLogger())

	defs := loader.Load()
	testutil.SliceLen(t, defs, 2)
	testutil.Equal(t, "first", defs[0].Name)
	testutil.Equal(t, "second", defs[1].Name)
}

func TestLoadMissingDirectory(t *testing.T) {
	loader := NewLoaderWithFS("nope", fstest.MapFS{}, testutil.DiscardLogger())
	defs := loader.Load()
	testutil.SliceLen(t, defs, 0)
}

func TestLoadRereadsEveryCall(t *testing.T) {
	fsys := fstest.MapFS{}
	loader := NewLoaderWithFS("jobs", fsys, testutil.DiscardLogger())
	testutil.SliceLen(t, loader.Load(), 0)

	fsys["jobs/new.sql"] = mapFile("-- @name new\n-- @type materialized_view\n-- @object mv_new\n")
	testutil.SliceLen(t, loader.Load(), 1)
}
