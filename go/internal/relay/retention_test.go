package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/ladder/go/internal/relay/db"
	"github.com/sqlc-dev/pqtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRetention_KeepsLastPerChannelTopic(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRetention()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	_, found, err := r.Last(ctx, "room", "state")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, r.Store(ctx, "room", "state", Retained{Data: json.RawMessage(`1`), PublishedAt: at}))
	require.NoError(t, r.Store(ctx, "room", "state", Retained{Data: json.RawMessage(`2`), PublishedAt: at.Add(time.Second)}))
	require.NoError(t, r.Store(ctx, "other", "state", Retained{Data: json.RawMessage(`3`), PublishedAt: at}))

	msg, found, err := r.Last(ctx, "room", "state")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `2`, string(msg.Data))
	assert.Equal(t, at.Add(time.Second), msg.PublishedAt)

	_, found, err = r.Last(ctx, "room", "notes")
	require.NoError(t, err)
	assert.False(t, found)
}

type fakeQuerier struct {
	retained map[db.GetRetainedMessageParams]db.RetainedMessage
	channels []db.RelayChannel
	err      error
}

func (f *fakeQuerier) TouchChannel(context.Context, db.TouchChannelParams) error { return f.err }

func (f *fakeQuerier) UpsertRetainedMessage(context.Context, db.UpsertRetainedMessageParams) error {
	return f.err
}

func (f *fakeQuerier) GetRetainedMessage(_ context.Context, arg db.GetRetainedMessageParams) (db.RetainedMessage, error) {
	if f.err != nil {
		return db.RetainedMessage{}, f.err
	}
	row, ok := f.retained[arg]
	if !ok {
		return db.RetainedMessage{}, sql.ErrNoRows
	}
	return row, nil
}

func (f *fakeQuerier) ListChannels(context.Context) ([]db.RelayChannel, error) {
	return f.channels, f.err
}

func TestPostgresRetention_Last(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	q := &fakeQuerier{retained: map[db.GetRetainedMessageParams]db.RetainedMessage{
		{Channel: "room", Topic: "notes"}: {
			Channel:     "room",
			Topic:       "notes",
			Data:        pqtype.NullRawMessage{RawMessage: json.RawMessage(`"hello"`), Valid: true},
			PublishedAt: at,
		},
	}}
	p := &PostgresRetention{queries: q}
	ctx := context.Background()

	msg, found, err := p.Last(ctx, "room", "notes")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `"hello"`, string(msg.Data))
	assert.Equal(t, at, msg.PublishedAt)

	_, found, err = p.Last(ctx, "room", "state")
	require.NoError(t, err)
	assert.False(t, found)

	q.err = errors.New("connection reset")
	_, _, err = p.Last(ctx, "room", "notes")
	assert.ErrorContains(t, err, "connection reset")
}

func TestPostgresRetention_Channels(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	p := &PostgresRetention{queries: &fakeQuerier{channels: []db.RelayChannel{
		{Name: "room", MessageCount: 12, LastPublishedAt: sql.NullTime{Time: at, Valid: true}},
		{Name: "quiet", MessageCount: 0},
	}}}

	got, err := p.Channels(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "room", got[0].Name)
	assert.Equal(t, int64(12), got[0].MessageCount)
	require.NotNil(t, got[0].LastPublishedAt)
	assert.Equal(t, "2024-05-01T07:00:00Z", *got[0].LastPublishedAt)
	assert.Nil(t, got[1].LastPublishedAt)
}

func TestValidChannel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"derived name", "lightning-ladder_example_com_talks", true},
		{"empty", "", false},
		{"dot", "a.b", false},
		{"space", "a b", false},
		{"wildcard", "room>", false},
		{"too long", string(make([]byte, 129)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidChannel(tt.input))
		})
	}
}
