// Package users backs up database account definitions. A logical dump
// of a database does not carry the server's users and grants; restoring
// onto a fresh server needs them replayed separately. The backup is a
// SQL script of the statements SHOW GRANTS returns for each account,
// optionally gzipped; no separate CREATE USER statements are written.
package users

import (
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// systemUsers are left out of a grants backup when system accounts are
// excluded.
var systemUsers = map[string]struct{}{
	"root":             {},
	"mysql.sys":        {},
	"mysql.session":    {},
	"mysql.infoschema": {},
	"debian-sys-maint": {},
	"phpmyadmin":       {},
	"pma":              {},
}

// Account identifies one MySQL account.
type Account struct {
	User string
	Host string
}

// BackupStats summarizes one users backup.
type BackupStats struct {
	Accounts int
	Skipped  int
	Path     string
}

// MySQLBackup extracts user grants over an existing connection pool.
type MySQLBackup struct {
	pool   *sql.DB
	logger *zap.Logger
}

// NewMySQLBackup wraps a pool opened against the target server.
func NewMySQLBackup(pool *sql.DB, logger *zap.Logger) *MySQLBackup {
	return &MySQLBackup{pool: pool, logger: logger.Named("users.mysql")}
}

// Accounts lists the server's accounts. When excludeSystem is true the
// well-known system accounts are filtered out.
func (b *MySQLBackup) Accounts(ctx context.Context, excludeSystem bool) ([]Account, error) {
	rows, err := b.pool.QueryContext(ctx,
		"SELECT User, Host FROM mysql.user ORDER BY User, Host",
	)
	if err != nil {
		return nil, fmt.Errorf("users: failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.User, &a.Host); err != nil {
			return nil, fmt.Errorf("users: scan: %w", err)
		}
		if a.User == "" {
			continue
		}
		if excludeSystem {
			if _, system := systemUsers[a.User]; system {
				continue
			}
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Backup writes the grants script to outPath. When compress is true the
// output is gzipped (outPath should then end in .gz). Accounts whose
// grants cannot be read are skipped with a warning.
func (b *MySQLBackup) Backup(ctx context.Context, outPath string, excludeSystem, compressOut bool) (BackupStats, error) {
	stats := BackupStats{Path: outPath}

	accounts, err := b.Accounts(ctx, excludeSystem)
	if err != nil {
		return stats, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return stats, fmt.Errorf("users: failed to create %s: %w", outPath, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if compressOut {
		gz = gzip.NewWriter(f)
		w = gz
	}

	fmt.Fprintf(w, "-- MySQL user grants backup\n-- Generated: %s\n\n",
		time.Now().UTC().Format(time.RFC3339))

	for _, account := range accounts {
		grants, err := b.grantsFor(ctx, account)
		if err != nil {
			b.logger.Warn("skipping account",
				zap.String("user", account.User),
				zap.String("host", account.Host),
				zap.Error(err),
			)
			stats.Skipped++
			continue
		}
		fmt.Fprintf(w, "-- Grants for '%s'@'%s'\n", account.User, account.Host)
		for _, g := range grants {
			fmt.Fprintf(w, "%s;\n", g)
		}
		fmt.Fprintln(w)
		stats.Accounts++
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return stats, fmt.Errorf("users: failed to finish gzip stream: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return stats, err
	}

	b.logger.Info("users backup written",
		zap.String("path", outPath),
		zap.Int("accounts", stats.Accounts),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func (b *MySQLBackup) grantsFor(ctx context.Context, account Account) ([]string, error) {
	query := fmt.Sprintf("SHOW GRANTS FOR %s@%s",
		quoteAccountPart(account.User), quoteAccountPart(account.Host))
	rows, err := b.pool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// quoteAccountPart single-quotes one side of a user@host pair, escaping
// embedded quotes. SHOW GRANTS does not accept placeholders.
func quoteAccountPart(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
