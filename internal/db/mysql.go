package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
)

// MySQL backs up MySQL servers via a logical dump equivalent to
// `mysqldump --single-transaction`, so InnoDB tables are dumped from a
// consistent snapshot without locking writers.
type MySQL struct {
	inst   config.DatabaseInstance
	pool   *sql.DB
	logger *zap.Logger
}

// NewMySQL opens a connection pool for the instance. The pool dials
// lazily; NewMySQL itself does not touch the network.
func NewMySQL(inst config.DatabaseInstance, logger *zap.Logger) (*MySQL, error) {
	cfg := mysql.NewConfig()
	cfg.User = inst.Username
	cfg.Passwd = inst.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port))
	cfg.DBName = inst.Database
	cfg.Timeout = ConnectTimeout
	if inst.SSLEnabled {
		cfg.TLSConfig = "true"
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("db: mysql connector for %s: %w", inst.ID, err)
	}

	pool := sql.OpenDB(connector)
	pool.SetConnMaxLifetime(connMaxLifetime)
	pool.SetMaxIdleConns(2)

	return &MySQL{
		inst:   inst,
		pool:   pool,
		logger: logger.Named("db.mysql"),
	}, nil
}

func (m *MySQL) Databases(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	rows, err := m.pool.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("db: mysql SHOW DATABASES on %s: %w", m.inst.Host, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db: mysql scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: mysql rows: %w", err)
	}

	return selectTargets(nil, names, m.inst.ExcludeSet()), nil
}

func (m *MySQL) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := m.pool.PingContext(ctx); err != nil {
		m.logger.Warn("connection test failed",
			zap.String("host", m.inst.Host),
			zap.Error(err),
		)
		return false
	}
	return true
}

// BackupDatabase shells out to mysqldump, streaming stdout straight to
// outPath. The password travels in MYSQL_PWD rather than on the command
// line, so it is invisible to `ps`.
func (m *MySQL) BackupDatabase(ctx context.Context, database, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("db: failed to create dump file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, "mysqldump",
		m.dumpArgs(database)...,
	)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.inst.Password)
	cmd.Stdout = out
	var stderr strings.Builder
	cmd.Stderr = &stderr

	m.logger.Info("running dump",
		zap.String("database", database),
		zap.String("command", m.BackupCommand(database, outPath)),
	)

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("db: mysqldump %s failed: %w: %s", database, err, strings.TrimSpace(stderr.String()))
	}
	return out.Sync()
}

// RestoreDatabase pipes the dump into the mysql client. The target
// database is created first if it does not exist.
func (m *MySQL) RestoreDatabase(ctx context.Context, database, inPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("db: failed to open dump file: %w", err)
	}
	defer in.Close()

	createCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if _, err := m.pool.ExecContext(createCtx,
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database),
	); err != nil {
		return fmt.Errorf("db: failed to create database %s: %w", database, err)
	}

	cmd := exec.CommandContext(ctx, "mysql",
		"--host="+m.inst.Host,
		"--port="+strconv.Itoa(m.inst.Port),
		"--user="+m.inst.Username,
		database,
	)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.inst.Password)
	cmd.Stdin = in
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("db: mysql restore of %s failed: %w: %s", database, err, strings.TrimSpace(stderr.String()))
	}
	m.logger.Info("restored database", zap.String("database", database))
	return nil
}

func (m *MySQL) BackupCommand(database, outPath string) string {
	return fmt.Sprintf("mysqldump %s > %s", strings.Join(m.dumpArgs(database), " "), outPath)
}

func (m *MySQL) dumpArgs(database string) []string {
	args := []string{
		"--host=" + m.inst.Host,
		"--port=" + strconv.Itoa(m.inst.Port),
		"--user=" + m.inst.Username,
		"--single-transaction",
		"--routines",
		"--triggers",
	}
	if m.inst.SSLEnabled {
		args = append(args, "--ssl-mode=REQUIRED")
	}
	return append(args, database)
}

func (m *MySQL) Close() error {
	return m.pool.Close()
}
