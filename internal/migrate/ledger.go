package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"db_path_migrator/internal/db"
)

// DefaultLedgerTable is the ledger table used unless WithLedgerTable names
// another.
const DefaultLedgerTable = "schema_migrations"

// Entry is one ledger row.
type Entry struct {
	Name       string    `json:"name"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Ledger reads and writes the table that records applied steps. It holds no
// connection; every call runs on the handle it is given.
type Ledger struct {
	table   string
	dialect db.Dialect
}

// NewLedger expects table to be a plain identifier; it is quoted here.
func NewLedger(table string, dialect db.Dialect) Ledger {
	return Ledger{table: dialect.QuoteIdent(table), dialect: dialect}
}

func (l Ledger) EnsureTable(ctx context.Context, q Tx) error {
	if _, err := q.ExecContext(ctx, l.dialect.LedgerTableDDL(l.table)); err != nil {
		return newError("", "ensure ledger table", l.kind(err, ErrLedgerWrite), err)
	}
	return nil
}

// IsRecorded reports whether exactly one row exists for name. More than one
// row is reported as ErrLedgerAmbiguous.
func (l Ledger) IsRecorded(ctx context.Context, q Tx, name string) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").
		From(l.table).
		Where(sq.Eq{"name": name}).
		PlaceholderFormat(l.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return false, newError(name, "build ledger query", ErrLedgerRead, err)
	}

	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, newError(name, "check ledger", l.kind(err, ErrLedgerRead), err)
	}
	switch count {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, newError(name, "check ledger", ErrLedgerAmbiguous, fmt.Errorf("%d rows", count))
	}
}

func (l Ledger) Record(ctx context.Context, q Tx, name string) error {
	query, args, err := sq.Insert(l.table).
		Columns("name").
		Values(name).
		PlaceholderFormat(l.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return newError(name, "build ledger insert", ErrLedgerWrite, err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if l.dialect.IsUniqueViolation(err) {
			err = fmt.Errorf("%w: %w", ErrAlreadyRecorded, err)
			return newError(name, "record", ErrLedgerWrite, err)
		}
		return newError(name, "record", l.kind(err, ErrLedgerWrite), err)
	}
	return nil
}

// Unrecord deletes the row for name. A missing row is not an error.
func (l Ledger) Unrecord(ctx context.Context, q Tx, name string) error {
	query, args, err := sq.Delete(l.table).
		Where(sq.Eq{"name": name}).
		PlaceholderFormat(l.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return newError(name, "build ledger delete", ErrLedgerWrite, err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return newError(name, "unrecord", l.kind(err, ErrLedgerWrite), err)
	}
	return nil
}

// ListRecorded returns every row in the store's retrieval order.
func (l Ledger) ListRecorded(ctx context.Context, q Tx) ([]Entry, error) {
	query, args, err := sq.Select("name", "executed_at").
		From(l.table).
		PlaceholderFormat(l.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return nil, newError("", "build ledger query", ErrLedgerRead, err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newError("", "list ledger", l.kind(err, ErrLedgerRead), err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ts timestamp
		)
		if err := rows.Scan(&e.Name, &ts); err != nil {
			return nil, newError("", "scan ledger row", ErrLedgerRead, err)
		}
		e.ExecutedAt = ts.Time
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, newError("", "list ledger", l.kind(err, ErrLedgerRead), err)
	}
	return entries, nil
}

func (l Ledger) kind(err, fallback error) error {
	return classify(err, l.dialect.IsConnectionError, fallback)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timestamp scans the executed_at column, which drivers return as
// time.Time, []byte or string depending on provider and DSN flags.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported executed_at type %T", src)
	}
}

func (t *timestamp) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized executed_at value %q", s)
}
