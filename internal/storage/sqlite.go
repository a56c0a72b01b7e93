package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autobump/internal/domain"
	logx "autobump/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (DataStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, token, name, next_bump FROM accounts ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Account{}
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Token, &a.Name, &a.NextBump); err != nil {
			return []domain.Account{}, fmt.Errorf("%w: accounts: %v", ErrPersistenceCorrupt, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	return s.replace(ctx, "accounts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO accounts(id, position, token, name, next_bump) VALUES(?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, a := range accounts {
			if _, err := stmt.ExecContext(ctx, a.ID, i, a.Token, a.Name, a.NextBump); err != nil {
				return fmt.Errorf("insert account %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, guild_name, channel_id, channel_name, next_bump FROM channels ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Channel{}
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.GuildID, &c.GuildName, &c.ChannelID, &c.ChannelName, &c.NextBump); err != nil {
			return []domain.Channel{}, fmt.Errorf("%w: channels: %v", ErrPersistenceCorrupt, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveChannels(ctx context.Context, channels []domain.Channel) error {
	return s.replace(ctx, "channels", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO channels(guild_id, position, guild_name, channel_id, channel_name, next_bump) VALUES(?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, c := range channels {
			if _, err := stmt.ExecContext(ctx, c.GuildID, i, c.GuildName, c.ChannelID, c.ChannelName, c.NextBump); err != nil {
				return fmt.Errorf("insert channel %s: %w", c.GuildID, err)
			}
		}
		return nil
	})
}

// replace swaps the whole table content in one transaction.
func (s *sqliteStore) replace(ctx context.Context, table string, fill func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fill(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
