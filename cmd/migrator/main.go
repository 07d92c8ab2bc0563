package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"db_path_migrator/internal/config"
	"db_path_migrator/internal/db"
	httpserver "db_path_migrator/internal/http"
	"db_path_migrator/internal/logging"
	"db_path_migrator/internal/metrics"
	"db_path_migrator/internal/migrate"
	"db_path_migrator/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) < 1 {
		c.usage(stdout)
		return 0
	}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "status":
		err = c.statusCmd(ctx, rest)
	case "migrate":
		err = c.migrateCmd(ctx, rest)
	case "rollback":
		err = c.rollbackCmd(ctx, rest)
	case "serve":
		err = c.serveCmd(ctx, rest)
	case "init-config":
		err = c.initConfigCmd(rest)
	case "help", "-h", "--help":
		c.usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %s\n", cmd)
		c.usage(stderr)
		return 1
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func (c *cli) usage(w io.Writer) {
	fmt.Fprintln(w, `db_path_migrator commands:
  status       - list migrations already run and left to run
  migrate      - apply every pending migration in one transaction
  rollback     - revert every applied migration in one transaction
  serve        - expose health, status and metrics over HTTP
  init-config  - create a starter config.yaml

Flags are command specific; run "<cmd> -h" for details.`)
}

// env is everything a database command needs, built from the config file.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	database *db.Database
	path     migrate.Path
}

func (c *cli) setup(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, c.stderr)

	var source fs.FS = migrations.FS()
	if cfg.MigrationsDir != "" {
		source = os.DirFS(cfg.MigrationsDir)
	}
	path, err := migrate.LoadPath(source)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Database.Provider, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	logger.Debug("migration path loaded", "steps", path.Len(), "provider", database.Dialect.Name())
	return &env{cfg: cfg, logger: logger, database: database, path: path}, nil
}

func (e *env) executor(opts ...migrate.Option) *migrate.Executor {
	opts = append([]migrate.Option{
		migrate.WithLogger(e.logger),
		migrate.WithLedgerTable(e.cfg.LedgerTable),
	}, opts...)
	return migrate.NewExecutor(e.database.DB, e.database.Dialect, opts...)
}

// runExecutor returns an executor for migrate and rollback together with a
// report func to call once the run ends. With metrics.push_url set, report
// pushes the run and step metrics to the Pushgateway.
func (e *env) runExecutor() (*migrate.Executor, func()) {
	if e.cfg.Metrics.PushURL == "" {
		return e.executor(), func() {}
	}
	collector := metrics.NewCollector()
	report := func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := collector.Push(ctx, e.cfg.Metrics.PushURL, e.cfg.Metrics.Job); err != nil {
			e.logger.Warn("push metrics failed", "url", e.cfg.Metrics.PushURL, "error", err)
			return
		}
		e.logger.Debug("metrics pushed", "url", e.cfg.Metrics.PushURL, "job", e.cfg.Metrics.Job)
	}
	return e.executor(migrate.WithObserver(collector)), report
}

const pushTimeout = 10 * time.Second

func (e *env) Close() error {
	return e.database.Close()
}

func (c *cli) statusCmd(ctx context.Context, args []string) error {
	fs := c.flagSet("status")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := c.setup(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()
	return c.printStatus(ctx, e.executor(), e.path)
}

func (c *cli) migrateCmd(ctx context.Context, args []string) error {
	fs := c.flagSet("migrate")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := c.setup(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	exec, report := e.runExecutor()
	_, err = exec.Up(ctx, e.path)
	report()
	if err != nil {
		return err
	}
	return c.printStatus(ctx, exec, e.path)
}

func (c *cli) rollbackCmd(ctx context.Context, args []string) error {
	fs := c.flagSet("rollback")
	configPath := fs.String("config", "config.yaml", "path to config file")
	approve := fs.Bool("approve", false, "skip approval prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := c.setup(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.path.Reversible() {
		return errors.New("rollback unavailable: no migration in the path has a down script")
	}

	if !*approve {
		fmt.Fprintf(c.stdout, "About to roll back every applied migration on %s\n", e.database.Dialect.Name())
		ok, err := c.promptYes("Type YES to proceed: ")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("aborted by user")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	exec, report := e.runExecutor()
	_, err = exec.Down(ctx, e.path)
	report()
	if err != nil {
		return err
	}
	return c.printStatus(ctx, exec, e.path)
}

func (c *cli) serveCmd(ctx context.Context, args []string) error {
	fs := c.flagSet("serve")
	configPath := fs.String("config", "config.yaml", "path to config file")
	addr := fs.String("addr", "", "listen address (overrides http.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := c.setup(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	listen := e.cfg.HTTP.Address
	if *addr != "" {
		listen = *addr
	}
	srv := httpserver.New(listen, e.logger, e.database, e.executor(), e.path, metrics.NewCollector())
	return srv.Start(ctx)
}

func (c *cli) initConfigCmd(args []string) error {
	fs := c.flagSet("init-config")
	path := fs.String("path", "config.yaml", "where to write the sample config")
	provider := fs.String("provider", "postgres", "database provider: postgres, mysql or sqlite")
	dsn := fs.String("dsn", "", "connection string (default: a placeholder for the provider)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := db.DialectFor(*provider); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil {
		return fmt.Errorf("%s already exists", *path)
	}

	if *dsn == "" {
		*dsn = config.DefaultDSN(*provider)
	}
	content := config.Sample(strings.ToLower(*provider), *dsn)
	if err := os.WriteFile(*path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "sample config written to", *path)
	return nil
}

func (c *cli) printStatus(ctx context.Context, exec *migrate.Executor, path migrate.Path) error {
	status, err := exec.Status(ctx, path)
	if err != nil {
		return err
	}
	return migrate.WriteStatus(c.stdout, status)
}

func (c *cli) promptYes(prompt string) (bool, error) {
	fmt.Fprint(c.stdout, prompt)
	reader := bufio.NewReader(c.stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stdout)
	return fs
}
