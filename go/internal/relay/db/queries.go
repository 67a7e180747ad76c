package db

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/sqlc-dev/pqtype"
)

//go:embed schema.sql
var Schema string

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type RetainedMessage struct {
	Channel     string
	Topic       string
	Data        pqtype.NullRawMessage
	PublishedAt time.Time
}

type RelayChannel struct {
	Name            string
	MessageCount    int64
	CreatedAt       time.Time
	LastPublishedAt sql.NullTime
}

const touchChannel = `
INSERT INTO relay_channels (name, message_count, last_published_at)
VALUES ($1, 1, $2)
ON CONFLICT (name) DO UPDATE
SET message_count = relay_channels.message_count + 1,
    last_published_at = EXCLUDED.last_published_at
`

type TouchChannelParams struct {
	Name            string
	LastPublishedAt sql.NullTime
}

func (q *Queries) TouchChannel(ctx context.Context, arg TouchChannelParams) error {
	_, err := q.db.ExecContext(ctx, touchChannel, arg.Name, arg.LastPublishedAt)
	return err
}

const upsertRetainedMessage = `
INSERT INTO retained_messages (channel, topic, data, published_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (channel, topic) DO UPDATE
SET data = EXCLUDED.data,
    published_at = EXCLUDED.published_at
`

type UpsertRetainedMessageParams struct {
	Channel     string
	Topic       string
	Data        pqtype.NullRawMessage
	PublishedAt time.Time
}

func (q *Queries) UpsertRetainedMessage(ctx context.Context, arg UpsertRetainedMessageParams) error {
	_, err := q.db.ExecContext(ctx, upsertRetainedMessage, arg.Channel, arg.Topic, arg.Data, arg.PublishedAt)
	return err
}

const getRetainedMessage = `
SELECT channel, topic, data, published_at
FROM retained_messages
WHERE channel = $1 AND topic = $2
`

type GetRetainedMessageParams struct {
	Channel string
	Topic   string
}

func (q *Queries) GetRetainedMessage(ctx context.Context, arg GetRetainedMessageParams) (RetainedMessage, error) {
	row := q.db.QueryRowContext(ctx, getRetainedMessage, arg.Channel, arg.Topic)
	var i RetainedMessage
	err := row.Scan(&i.Channel, &i.Topic, &i.Data, &i.PublishedAt)
	return i, err
}

const listChannels = `
SELECT name, message_count, created_at, last_published_at
FROM relay_channels
ORDER BY name
`

func (q *Queries) ListChannels(ctx context.Context) ([]RelayChannel, error) {
	rows, err := q.db.QueryContext(ctx, listChannels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RelayChannel
	for rows.Next() {
		var i RelayChannel
		if err := rows.Scan(&i.Name, &i.MessageCount, &i.CreatedAt, &i.LastPublishedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
