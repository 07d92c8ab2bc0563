package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"db_path_migrator/internal/db"
)

// Tx is the handle actions run against. *sql.Tx and *sql.DB satisfy it.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Action is one direction of a step. It must not commit or roll back tx.
type Action interface {
	Execute(ctx context.Context, tx Tx) error
}

// ActionFunc adapts an arbitrary procedure to Action.
type ActionFunc func(ctx context.Context, tx Tx) error

func (f ActionFunc) Execute(ctx context.Context, tx Tx) error {
	return f(ctx, tx)
}

type sqlAction struct {
	statements []string
}

// SQL returns an action that runs fixed statements in order. Each argument
// may hold several statements separated by semicolons.
func SQL(scripts ...string) Action {
	var stmts []string
	for _, script := range scripts {
		stmts = append(stmts, db.SplitStatements(script)...)
	}
	return sqlAction{statements: stmts}
}

func (a sqlAction) Execute(ctx context.Context, tx Tx) error {
	for i, stmt := range a.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if len(a.statements) == 1 {
				return err
			}
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}
