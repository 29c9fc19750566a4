package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers pgx as a database/sql driver
	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
)

// Postgres backs up PostgreSQL servers via pg_dump logical dumps.
type Postgres struct {
	inst   config.DatabaseInstance
	pool   *sql.DB
	logger *zap.Logger
}

// NewPostgres opens a connection pool against the instance's maintenance
// database (the configured default, or "postgres").
func NewPostgres(inst config.DatabaseInstance, logger *zap.Logger) (*Postgres, error) {
	pool, err := sql.Open("pgx", postgresDSN(inst, maintenanceDB(inst)))
	if err != nil {
		return nil, fmt.Errorf("db: postgres pool for %s: %w", inst.ID, err)
	}
	pool.SetConnMaxLifetime(connMaxLifetime)
	pool.SetMaxIdleConns(2)

	return &Postgres{
		inst:   inst,
		pool:   pool,
		logger: logger.Named("db.postgres"),
	}, nil
}

func maintenanceDB(inst config.DatabaseInstance) string {
	if inst.Database != "" {
		return inst.Database
	}
	return "postgres"
}

func postgresDSN(inst config.DatabaseInstance, database string) string {
	sslmode := "disable"
	if inst.SSLEnabled {
		sslmode = "require"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(inst.Username, inst.Password),
		Host:   fmt.Sprintf("%s:%d", inst.Host, inst.Port),
		Path:   "/" + database,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	q.Set("connect_timeout", strconv.Itoa(int(ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Postgres) Databases(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	rows, err := p.pool.QueryContext(ctx,
		"SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname",
	)
	if err != nil {
		return nil, fmt.Errorf("db: postgres database query on %s: %w", p.inst.Host, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db: postgres scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: postgres rows: %w", err)
	}

	return selectTargets(nil, names, p.inst.ExcludeSet()), nil
}

func (p *Postgres) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := p.pool.PingContext(ctx); err != nil {
		p.logger.Warn("connection test failed",
			zap.String("host", p.inst.Host),
			zap.Error(err),
		)
		return false
	}
	return true
}

// BackupDatabase shells out to pg_dump with the password in PGPASSWORD.
func (p *Postgres) BackupDatabase(ctx context.Context, database, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("db: failed to create dump file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, "pg_dump", p.dumpArgs(database)...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.inst.Password)
	cmd.Stdout = out
	var stderr strings.Builder
	cmd.Stderr = &stderr

	p.logger.Info("running dump",
		zap.String("database", database),
		zap.String("command", p.BackupCommand(database, outPath)),
	)

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("db: pg_dump %s failed: %w: %s", database, err, strings.TrimSpace(stderr.String()))
	}
	return out.Sync()
}

// RestoreDatabase creates the target database when missing and feeds the
// dump through psql.
func (p *Postgres) RestoreDatabase(ctx context.Context, database, inPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("db: failed to open dump file: %w", err)
	}
	defer in.Close()

	checkCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	var exists bool
	err = p.pool.QueryRowContext(checkCtx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", database,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("db: failed to check database %s: %w", database, err)
	}
	if !exists {
		// CREATE DATABASE cannot be parameterized; the identifier is
		// quoted instead.
		if _, err := p.pool.ExecContext(checkCtx,
			fmt.Sprintf(`CREATE DATABASE %q`, database),
		); err != nil {
			return fmt.Errorf("db: failed to create database %s: %w", database, err)
		}
	}

	cmd := exec.CommandContext(ctx, "psql",
		"--host="+p.inst.Host,
		"--port="+strconv.Itoa(p.inst.Port),
		"--username="+p.inst.Username,
		"--dbname="+database,
		"--quiet",
		"--set", "ON_ERROR_STOP=1",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.inst.Password)
	cmd.Stdin = in
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("db: psql restore of %s failed: %w: %s", database, err, strings.TrimSpace(stderr.String()))
	}
	p.logger.Info("restored database", zap.String("database", database))
	return nil
}

func (p *Postgres) BackupCommand(database, outPath string) string {
	return fmt.Sprintf("pg_dump %s > %s", strings.Join(p.dumpArgs(database), " "), outPath)
}

func (p *Postgres) dumpArgs(database string) []string {
	return []string{
		"--host=" + p.inst.Host,
		"--port=" + strconv.Itoa(p.inst.Port),
		"--username=" + p.inst.Username,
		"--no-password",
		database,
	}
}

func (p *Postgres) Close() error {
	return p.pool.Close()
}
