package sqljob

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Loader reads annotated job files from a directory. Definitions are
// re-read on every Load so edits on disk take effect at the next pass.
type Loader struct {
	dir    string
	fsys   fs.FS
	logger *slog.Logger
}

// NewLoader creates a loader over a directory on the host filesystem.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// NewLoaderWithFS creates a loader reading dir inside the given fs.FS.
func NewLoaderWithFS(dir string, fsys fs.FS, logger *slog.Logger) *Loader {
	return &Loader{dir: dir, fsys: fsys, logger: logger}
}

// Dir returns the directory the loader reads from.
func (l *Loader) Dir() string {
	return l.dir
}

// Load parses every *.sql file in the directory, in name order, into
// job definitions. A missing directory or an incomplete file is logged
// and skipped; Load itself never fails.
func (l *Loader) Load() []Definition {
	fsys := l.fsys
	root := l.dir
	if fsys == nil {
		fsys = os.DirFS(l.dir)
		root = "."
	}

	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		l.logger.Warn("job directory not found", "dir", l.dir)
		return []Definition{}
	}

	defs := make([]Definition, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			l.logger.Warn("skipping unreadable job file", "file", name, "error", err)
			continue
		}
		if def, ok := l.buildDefinition(name, string(data)); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

func (l *Loader) buildDefinition(fileName, text string) (Definition, bool) {
	meta := ParseMetadata(strings.Split(text, "\n"))

	name := meta["name"]
	jobType := meta["type"]
	object := meta["object"]
	if name == "" || jobType == "" || object == "" {
		l.logger.Debug("skipping job file without name/type/object", "file", fileName)
		return Definition{}, false
	}

	refreshSQL := meta["refresh_sql"]
	if refreshSQL == "" {
		if JobType(jobType) != JobTypeMaterializedView {
			l.logger.Debug("skipping job without refresh_sql", "file", fileName, "type", jobType)
			return Definition{}, false
		}
		refreshSQL = "REFRESH MATERIALIZED VIEW CONCURRENTLY " + object
	}

	return Definition{
		Name:        name,
		Type:        JobType(jobType),
		Object:      object,
		Description: meta["description"],
		RefreshSQL:  refreshSQL,
		SourceFile:  filepath.Join(l.dir, fileName),
	}, true
}
