package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// skipOnRollbackDirective in the leading comment block of a forward-only
// file marks the step SkipOnRollback.
const skipOnRollbackDirective = "migrate:skip-on-rollback"

var fileNamePattern = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_\-]+)(\.up|\.down)?\.sql$`)

type sourceFile struct {
	version  int64
	stem     string
	upFile   string
	up       string
	downFile string
	down     string
}

// LoadPath builds a path from the .sql files at the root of fsys.
//
//	001_create_users.up.sql    forward statements
//	001_create_users.down.sql  backward statements (optional)
//	002_seed.sql               forward-only step
//
// A forward-only file whose leading comments include
// "-- migrate:skip-on-rollback" is left in place by down-runs.
//
// Steps are named by the file stem (001_create_users) and ordered by numeric
// version. Files without the .sql extension and directories are ignored.
func LoadPath(fsys fs.FS) (Path, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Path{}, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*sourceFile)
	for _, entry := range entries {
		file := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(file, ".sql") {
			continue
		}
		version, stem, suffix, err := parseFileName(file)
		if err != nil {
			return Path{}, err
		}
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return Path{}, fmt.Errorf("read migration %s: %w", file, err)
		}

		src, ok := byVersion[version]
		switch {
		case !ok:
			src = &sourceFile{version: version, stem: stem}
			byVersion[version] = src
		case src.stem != stem:
			return Path{}, fmt.Errorf("%w: version %d used by %s and %s", ErrInvalidMigrationFile, version, src.stem, stem)
		}

		if suffix == ".down" {
			src.downFile, src.down = file, string(body)
			continue
		}
		if src.upFile != "" {
			return Path{}, fmt.Errorf("%w: %s and %s both define version %d", ErrInvalidMigrationFile, src.upFile, file, version)
		}
		src.upFile, src.up = file, string(body)
	}

	sources := make([]*sourceFile, 0, len(byVersion))
	for _, src := range byVersion {
		switch {
		case src.upFile == "":
			return Path{}, fmt.Errorf("%w: %s has no matching up file", ErrInvalidMigrationFile, src.downFile)
		case src.downFile != "" && !strings.HasSuffix(src.upFile, ".up.sql"):
			return Path{}, fmt.Errorf("%w: %s is forward-only but %s exists", ErrInvalidMigrationFile, src.upFile, src.downFile)
		}
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].version < sources[j].version })

	var path Path
	for _, src := range sources {
		if src.downFile == "" {
			var opts []StepOption
			if hasDirective(src.up, skipOnRollbackDirective) {
				opts = append(opts, SkipOnRollback())
			}
			path = path.Append(ForwardOnly(src.stem, SQL(src.up), opts...))
			continue
		}
		path = path.Append(NewStep(src.stem, SQL(src.up), SQL(src.down)))
	}
	return path, nil
}

func parseFileName(base string) (version int64, stem, suffix string, err error) {
	m := fileNamePattern.FindStringSubmatch(base)
	if m == nil {
		return 0, "", "", fmt.Errorf("%w: %s does not match NNN_name[.up|.down].sql", ErrInvalidMigrationFile, base)
	}
	version, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: version in %s: %v", ErrInvalidMigrationFile, base, err)
	}
	return version, m[1] + "_" + m[2], m[3], nil
}

// hasDirective looks for "-- <directive>" in the comment lines that open a
// script.
func hasDirective(script, directive string) bool {
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return false
		}
		if strings.TrimSpace(strings.TrimPrefix(line, "--")) == directive {
			return true
		}
	}
	return false
}
