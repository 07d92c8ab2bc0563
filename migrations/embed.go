package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// FS returns the migration files compiled into the binary.
func FS() fs.FS {
	return files
}
