package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/ladder/go/internal/dbconfig"
)

const defaultMaxAge = 30 * 24 * time.Hour

const deleteMessages = `DELETE FROM retained_messages WHERE published_at < $1`

// Channels with nothing retained and no recent traffic go too.
const deleteChannels = `
        DELETE FROM relay_channels c
        WHERE COALESCE(c.last_published_at, c.created_at) < $1
          AND NOT EXISTS (SELECT 1 FROM retained_messages m WHERE m.channel = c.name)
    `

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pruned struct {
	Messages int64
	Channels int64
}

// maxAge reads RETENTION_MAX_AGE, falling back to defaultMaxAge.
func maxAge() (time.Duration, error) {
	raw := os.Getenv("RETENTION_MAX_AGE")
	if raw == "" {
		return defaultMaxAge, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse RETENTION_MAX_AGE: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("RETENTION_MAX_AGE must be positive, got %s", d)
	}
	return d, nil
}

// prune removes messages published before cutoff, then the channels left
// empty and idle.
func prune(ctx context.Context, db execer, cutoff time.Time) (pruned, error) {
	messages, err := db.Exec(ctx, deleteMessages, cutoff)
	if err != nil {
		return pruned{}, fmt.Errorf("prune messages: %w", err)
	}
	channels, err := db.Exec(ctx, deleteChannels, cutoff)
	if err != nil {
		return pruned{}, fmt.Errorf("prune channels: %w", err)
	}
	return pruned{Messages: messages.RowsAffected(), Channels: channels.RowsAffected()}, nil
}

func run(ctx context.Context) error {
	age, err := maxAge()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-age)

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer pool.Close()

	var res pruned
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		res, err = prune(ctx, tx, cutoff)
		return err
	}); err != nil {
		return err
	}

	fmt.Printf(
		"Pruned retention older than %s: %d messages, %d channels\n",
		cutoff.UTC().Format(time.RFC3339), res.Messages, res.Channels,
	)
	return nil
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
