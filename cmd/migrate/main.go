package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/lessons/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	dsnVar         = "LESSONS_POSTGRES_DSN"
)

var errDSNRequired = errors.New(dsnVar + " (or -dsn) is required")

// migrationStore — то, что CLI использует у postgres.Store.
type migrationStore interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

type command struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.LookupEnv, os.Stdout, openStore); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, dsn string) (migrationStore, error) {
	return postgres.Open(ctx, dsn)
}

// run применяет или откатывает схему каталога уроков и заказов и печатает итоговое состояние.
func run(
	ctx context.Context,
	args []string,
	lookup func(string) (string, bool),
	out io.Writer,
	open func(context.Context, string) (migrationStore, error),
) error {
	cmd, err := parseArgs(args)
	if err != nil {
		return err
	}
	if cmd.dsn == "" {
		if cmd.dsn, err = resolveDSN(lookup, ".env"); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	store, err := open(ctx, cmd.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch cmd.direction {
	case "up":
		if err := store.MigrateUp(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return printState(ctx, out, store, "migrate up ok")
	case "down":
		if err := store.MigrateDown(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		return printState(ctx, out, store, "migrate down ok")
	default:
		return printState(ctx, out, store, "migration status")
	}
}

// parseArgs проверяет флаги до подключения к базе. Откат без -steps снимает одну миграцию.
func parseArgs(args []string) (command, error) {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var cmd command
	flags.StringVar(&cmd.direction, "direction", "up", "migration direction: up|down|status")
	flags.IntVar(&cmd.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flags.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+dsnVar+", then .env)")
	if err := flags.Parse(args); err != nil {
		return command{}, err
	}

	cmd.direction = strings.ToLower(strings.TrimSpace(cmd.direction))
	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.steps < 0 {
		return command{}, fmt.Errorf("steps must not be negative: %d", cmd.steps)
	}
	switch cmd.direction {
	case "up", "status":
	case "down":
		if cmd.steps == 0 {
			cmd.steps = 1
		}
	default:
		return command{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", cmd.direction)
	}
	return cmd, nil
}

// resolveDSN берёт DSN из окружения, затем из .env без изменения окружения процесса.
func resolveDSN(lookup func(string) (string, bool), envFile string) (string, error) {
	if v, ok := lookup(dsnVar); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	values, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read %s: %w", envFile, err)
	}
	if dsn := strings.TrimSpace(values[dsnVar]); dsn != "" {
		return dsn, nil
	}
	return "", errDSNRequired
}

func printState(ctx context.Context, out io.Writer, store migrationStore, prefix string) error {
	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", prefix, state.Version, state.Applied, state.Pending)
	return err
}
