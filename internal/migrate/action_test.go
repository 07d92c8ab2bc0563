package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_path_migrator/internal/migrate"
)

func TestSQLRunsEveryStatement(t *testing.T) {
	database := openTestDB(t)
	action := migrate.SQL(
		"CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);\nINSERT INTO notes (body) VALUES ('a;b');",
		"INSERT INTO notes (body) VALUES ('c')",
	)

	require.NoError(t, action.Execute(context.Background(), database))

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLReportsFailingStatement(t *testing.T) {
	database := openTestDB(t)
	action := migrate.SQL("CREATE TABLE notes (id INTEGER); INSERT INTO missing VALUES (1)")

	err := action.Execute(context.Background(), database)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2")
}

func TestEmptySQLIsNoop(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, migrate.SQL("-- nothing to do\n").Execute(context.Background(), database))
}
