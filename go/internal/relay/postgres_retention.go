package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/ladder/go/internal/relay/db"
	"github.com/mcdev12/ladder/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// Querier defines what retention needs from the database layer
type Querier interface {
	TouchChannel(ctx context.Context, arg db.TouchChannelParams) error
	UpsertRetainedMessage(ctx context.Context, arg db.UpsertRetainedMessageParams) error
	GetRetainedMessage(ctx context.Context, arg db.GetRetainedMessageParams) (db.RetainedMessage, error)
	ListChannels(ctx context.Context) ([]db.RelayChannel, error)
}

// PostgresRetention keeps the last message per channel topic in Postgres so
// a relay restart does not strand late joiners.
type PostgresRetention struct {
	conn    *sql.DB
	queries Querier
}

// NewPostgresRetention wraps an open database handle.
func NewPostgresRetention(conn *sql.DB) *PostgresRetention {
	return &PostgresRetention{conn: conn, queries: db.New(conn)}
}

// EnsureSchema creates the retention tables if they are missing.
func (p *PostgresRetention) EnsureSchema(ctx context.Context) error {
	if _, err := p.conn.ExecContext(ctx, db.Schema); err != nil {
		return fmt.Errorf("failed to apply retention schema: %w", err)
	}
	return nil
}

// Store records msg as the retained message and bumps the channel counters
// in one transaction.
func (p *PostgresRetention) Store(ctx context.Context, channel, topic string, msg Retained) error {
	err := sqlutil.Run(ctx, p.conn, func(tx *sql.Tx) *db.Queries { return db.New(tx) }, func(q *db.Queries) error {
		if err := q.TouchChannel(ctx, db.TouchChannelParams{
			Name:            channel,
			LastPublishedAt: sqlutil.ToSqlTime(msg.PublishedAt),
		}); err != nil {
			return fmt.Errorf("touch channel: %w", err)
		}
		return q.UpsertRetainedMessage(ctx, db.UpsertRetainedMessageParams{
			Channel:     channel,
			Topic:       topic,
			Data:        sqlutil.ToNullRawMessage(msg.Data),
			PublishedAt: msg.PublishedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to store retained message: %w", err)
	}
	return nil
}

// Last returns the retained message for a channel topic.
func (p *PostgresRetention) Last(ctx context.Context, channel, topic string) (Retained, bool, error) {
	row, err := p.queries.GetRetainedMessage(ctx, db.GetRetainedMessageParams{Channel: channel, Topic: topic})
	if errors.Is(err, sql.ErrNoRows) {
		return Retained{}, false, nil
	}
	if err != nil {
		return Retained{}, false, fmt.Errorf("failed to get retained message: %w", err)
	}
	return Retained{
		Data:        sqlutil.FromNullRawMessage(row.Data),
		PublishedAt: row.PublishedAt,
	}, true, nil
}

// ChannelSummary is one row of the retention inventory.
type ChannelSummary struct {
	Name            string  `json:"name"`
	MessageCount    int64   `json:"message_count"`
	LastPublishedAt *string `json:"last_published_at,omitempty"`
}

// Channels lists every channel that ever published through the relay.
func (p *PostgresRetention) Channels(ctx context.Context) ([]ChannelSummary, error) {
	rows, err := p.queries.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	out := make([]ChannelSummary, 0, len(rows))
	for _, r := range rows {
		s := ChannelSummary{Name: r.Name, MessageCount: r.MessageCount}
		if t := sqlutil.FromSqlTime(r.LastPublishedAt); t != nil {
			formatted := t.UTC().Format(time.RFC3339)
			s.LastPublishedAt = &formatted
		}
		out = append(out, s)
	}
	log.Debug().Int("channels", len(out)).Msg("listed retained channels")
	return out, nil
}
