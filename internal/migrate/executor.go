package migrate

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"db_path_migrator/internal/db"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeReverted Outcome = "reverted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer is notified of every step and run outcome. Calls happen on the
// goroutine running the migration.
type Observer interface {
	ObserveStep(direction Direction, step string, outcome Outcome, elapsed time.Duration)
	ObserveRun(direction Direction, err error, elapsed time.Duration)
}

// Result describes a committed run. Applied lists the steps whose action
// ran, in execution order.
type Result struct {
	RunID     string        `json:"run_id"`
	Direction Direction     `json:"direction"`
	Applied   []string      `json:"applied"`
	Skipped   []string      `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Executor applies paths against one database. Each Up or Down call is a
// single transaction: it commits only if every step succeeds.
type Executor struct {
	conn     *sql.DB
	dialect  db.Dialect
	ledger   Ledger
	logger   Logger
	observer Observer
}

type Option func(*Executor)

func WithLogger(l Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLedgerTable overrides the ledger table name. The name must be a plain
// identifier.
func WithLedgerTable(table string) Option {
	return func(e *Executor) {
		e.ledger = NewLedger(table, e.dialect)
	}
}

func NewExecutor(conn *sql.DB, dialect db.Dialect, opts ...Option) *Executor {
	e := &Executor{
		conn:     conn,
		dialect:  dialect,
		ledger:   NewLedger(DefaultLedgerTable, dialect),
		logger:   nopLogger{},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Up applies every unrecorded step of path in declared order.
func (e *Executor) Up(ctx context.Context, path Path) (*Result, error) {
	return e.run(ctx, Up, path)
}

// Down reverts every recorded step of path in reverse order.
func (e *Executor) Down(ctx context.Context, path Path) (*Result, error) {
	return e.run(ctx, Down, path)
}

// Status reconciles path against the ledger, creating the ledger table if
// it does not exist yet.
func (e *Executor) Status(ctx context.Context, path Path) (*Status, error) {
	if err := e.ledger.EnsureTable(ctx, e.conn); err != nil {
		return nil, err
	}
	entries, err := e.ledger.ListRecorded(ctx, e.conn)
	if err != nil {
		return nil, err
	}
	return Reconcile(path, entries), nil
}

func (e *Executor) run(ctx context.Context, dir Direction, path Path) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), Direction: dir}
	attrs := []any{"run_id", res.RunID, "direction", string(dir)}

	err := e.runTx(ctx, dir, path, res, attrs)
	res.Duration = time.Since(start)
	e.observer.ObserveRun(dir, err, res.Duration)
	if err != nil {
		e.logger.Error("migration run failed", append(attrs, "error", err)...)
		return nil, err
	}
	e.logger.Info("migration run committed", append(attrs,
		"applied", len(res.Applied),
		"skipped", len(res.Skipped),
		"duration_ms", res.Duration.Milliseconds())...)
	return res, nil
}

func (e *Executor) runTx(ctx context.Context, dir Direction, path Path, res *Result, attrs []any) (err error) {
	if err := path.Validate(); err != nil {
		return err
	}
	for _, name := range path.Duplicates() {
		e.logger.Warn("duplicate step name in path", append(attrs, "step", name)...)
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return newError("", "begin", ErrConnectivity, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				e.logger.Warn("rollback failed", append(attrs, "error", rbErr)...)
			}
		}
	}()

	if err := e.ledger.EnsureTable(ctx, tx); err != nil {
		return err
	}

	steps := path.Forward()
	if dir == Down {
		steps = path.Backward()
	}
	for _, step := range steps {
		stepStart := time.Now()
		var outcome Outcome
		if dir == Up {
			outcome, err = e.up(ctx, tx, step)
		} else {
			outcome, err = e.down(ctx, tx, step)
		}
		elapsed := time.Since(stepStart)
		if err != nil {
			e.observer.ObserveStep(dir, step.name, OutcomeFailed, elapsed)
			return err
		}
		e.observer.ObserveStep(dir, step.name, outcome, elapsed)

		if outcome == OutcomeSkipped {
			res.Skipped = append(res.Skipped, step.name)
			e.logger.Debug("step skipped", append(attrs, "step", step.name)...)
			continue
		}
		res.Applied = append(res.Applied, step.name)
		e.logger.Info("step "+string(outcome), append(attrs,
			"step", step.name,
			"duration_ms", elapsed.Milliseconds())...)
	}

	if err := tx.Commit(); err != nil {
		return newError("", "commit", ErrConnectivity, err)
	}
	return nil
}

func (e *Executor) up(ctx context.Context, tx *sql.Tx, step Step) (Outcome, error) {
	recorded, err := e.ledger.IsRecorded(ctx, tx, step.name)
	if err != nil {
		return OutcomeFailed, err
	}
	if recorded {
		return OutcomeSkipped, nil
	}
	if step.forward != nil {
		if err := step.forward.Execute(ctx, tx); err != nil {
			return OutcomeFailed, newError(step.name, "forward", e.actionKind(err), err)
		}
	}
	if err := e.ledger.Record(ctx, tx, step.name); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

func (e *Executor) down(ctx context.Context, tx *sql.Tx, step Step) (Outcome, error) {
	recorded, err := e.ledger.IsRecorded(ctx, tx, step.name)
	if err != nil {
		return OutcomeFailed, err
	}
	if !recorded {
		return OutcomeSkipped, nil
	}
	if step.backward == nil {
		if step.skipOnRollback {
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, newError(step.name, "backward", ErrIrreversibleStep, nil)
	}
	if err := step.backward.Execute(ctx, tx); err != nil {
		return OutcomeFailed, newError(step.name, "backward", e.actionKind(err), err)
	}
	if err := e.ledger.Unrecord(ctx, tx, step.name); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeReverted, nil
}

func (e *Executor) actionKind(err error) error {
	return classify(err, e.dialect.IsConnectionError, ErrActionExecution)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopObserver struct{}

func (nopObserver) ObserveStep(Direction, string, Outcome, time.Duration) {}
func (nopObserver) ObserveRun(Direction, error, time.Duration)            {}
