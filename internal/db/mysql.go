package db

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

// MySQL DDL is not transactional: CREATE/ALTER statements commit implicitly,
// so a failed run only rolls back DML and ledger rows.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (MySQL) Placeholder() sq.PlaceholderFormat { return sq.Question }

func (MySQL) LedgerTableDDL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name        VARCHAR(255) NOT NULL PRIMARY KEY,
	executed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB`, table)
}

func (MySQL) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func (MySQL) IsConnectionError(err error) bool {
	return errors.Is(err, mysql.ErrInvalidConn)
}
