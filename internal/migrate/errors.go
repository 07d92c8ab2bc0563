package migrate

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
)

// Error kinds. Every error returned by the executor wraps exactly one of
// them, so callers can branch with errors.Is.
var (
	ErrActionExecution  = errors.New("action execution failed")
	ErrLedgerWrite      = errors.New("ledger write failed")
	ErrAlreadyRecorded  = errors.New("step already recorded")
	ErrLedgerRead       = errors.New("ledger read failed")
	ErrLedgerAmbiguous  = errors.New("ledger holds duplicate rows")
	ErrIrreversibleStep = errors.New("step has no backward action")
	ErrConnectivity     = errors.New("database connectivity lost")
	ErrPrecondition     = errors.New("step precondition not met")

	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// Error reports a failed operation on a named step. Step is empty for
// run-level failures such as begin or commit.
type Error struct {
	Step string
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Step != "" {
		msg = fmt.Sprintf("step %q: %s", e.Step, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(step, op string, kind, err error) *Error {
	return &Error{Step: step, Op: op, Kind: kind, Err: err}
}

// classify returns ErrConnectivity for errors that mean the connection or
// the transaction is gone, and fallback otherwise.
func classify(err error, isConnErr func(error) bool, fallback error) error {
	if isConnectivity(err) || (isConnErr != nil && isConnErr(err)) {
		return ErrConnectivity
	}
	return fallback
}

func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
