package notes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func attached(t *testing.T, relay *transport.MemoryRelay, clock clockwork.Clock) *Engine {
	t.Helper()
	adapter := relay.Adapter(nil)
	require.NoError(t, adapter.Connect(context.Background()))
	t.Cleanup(func() { _ = adapter.Close() })

	opts := DefaultOptions()
	opts.Clock = clock
	e := NewEngine(adapter, opts)
	t.Cleanup(e.Close)
	require.NoError(t, e.Attach(context.Background()))
	return e
}

func encoded(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestEdit_PublishesAfterQuietPeriod(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	relay := transport.NewMemoryRelay(clock)
	e := attached(t, relay, clock)

	require.NoError(t, e.Edit("<b>h</b>"))
	clock.Advance(100 * time.Millisecond)
	require.NoError(t, e.Edit("<b>hi</b>"))
	clock.Advance(200 * time.Millisecond)
	assert.Empty(t, relay.History(transport.TopicNotes))

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(relay.History(transport.TopicNotes)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `"<b>hi</b>"`, string(relay.History(transport.TopicNotes)[0].Data))
	assert.Equal(t, "<b>hi</b>", e.Snapshot().Document)
}

func TestApplyRemote_WholesaleReplace(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	relay := transport.NewMemoryRelay(clock)
	writer := attached(t, relay, clock)
	reader := attached(t, relay, clock)

	var seen []string
	cancel := reader.Subscribe(func(s Snapshot) { seen = append(seen, s.Document) })
	defer cancel()

	require.NoError(t, writer.Edit("<p>agenda</p>"))
	writer.Flush()

	assert.Equal(t, "<p>agenda</p>", reader.Snapshot().Document)
	assert.Equal(t, []string{"<p>agenda</p>"}, seen)
}

func TestApplyRemote_EchoGuardSuppressesDuringTyping(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	e := NewEngine(nil, Options{Clock: clock, PublishDelay: 300 * time.Millisecond, EchoGuard: 600 * time.Millisecond})
	defer e.Close()

	require.NoError(t, e.Edit("local draft"))
	clock.Advance(599 * time.Millisecond)
	require.NoError(t, e.ApplyRemote(encoded(t, "stale reflection")))
	assert.Equal(t, "local draft", e.Snapshot().Document)

	clock.Advance(time.Millisecond)
	require.NoError(t, e.ApplyRemote(encoded(t, "someone else")))
	assert.Equal(t, "someone else", e.Snapshot().Document)
}

func TestApplyRemote_DropsMalformed(t *testing.T) {
	e := NewEngine(nil, DefaultOptions())
	defer e.Close()
	require.NoError(t, e.ApplyRemote(encoded(t, "kept")))

	for _, payload := range []string{`null`, `42`, `{"doc":"x"}`, `not json`} {
		assert.ErrorIs(t, e.ApplyRemote([]byte(payload)), ErrMalformedPayload, payload)
	}
	assert.Equal(t, "kept", e.Snapshot().Document)
}

func TestClear_PublishesImmediately(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	relay := transport.NewMemoryRelay(clock)
	writer := attached(t, relay, clock)
	reader := attached(t, relay, clock)

	require.NoError(t, writer.Edit("secret"))
	writer.Flush()
	require.Equal(t, "secret", reader.Snapshot().Document)

	clock.Advance(time.Second)
	require.NoError(t, writer.Clear(context.Background()))
	assert.Empty(t, writer.Snapshot().Document)
	assert.Empty(t, reader.Snapshot().Document)

	history := relay.History(transport.TopicNotes)
	require.Len(t, history, 2)
	assert.JSONEq(t, `""`, string(history[1].Data))
}

func TestExternalURL_SwitchesModeEverywhere(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	relay := transport.NewMemoryRelay(clock)
	host := attached(t, relay, clock)
	guest := attached(t, relay, clock)
	ctx := context.Background()

	assert.Equal(t, ModeBuiltin, guest.Mode())

	require.NoError(t, host.SetExternalURL(ctx, " https://pad.example.com/ladder "))
	assert.Equal(t, ModeExternal, host.Mode())
	assert.Equal(t, ModeExternal, guest.Mode())
	assert.Equal(t, "https://pad.example.com/ladder", guest.Snapshot().ExternalURL)

	require.NoError(t, host.ClearExternalURL(ctx))
	assert.Equal(t, ModeBuiltin, guest.Mode())

	control := relay.History(transport.TopicNotesControl)
	require.Len(t, control, 2)
	assert.JSONEq(t, `{"url":""}`, string(control[1].Data))
}

func TestSetExternalURL_RejectsInvalid(t *testing.T) {
	e := NewEngine(nil, DefaultOptions())
	defer e.Close()
	for _, raw := range []string{"pad.example.com", "ftp://pad.example.com", "https://", "::"} {
		assert.ErrorIs(t, e.SetExternalURL(context.Background(), raw), ErrInvalidURL, raw)
	}
	assert.Equal(t, ModeBuiltin, e.Mode())
}

func TestApplyControl(t *testing.T) {
	e := NewEngine(nil, DefaultOptions())
	defer e.Close()

	assert.ErrorIs(t, e.ApplyControl([]byte(`{}`)), ErrMalformedPayload)
	assert.ErrorIs(t, e.ApplyControl([]byte(`"https://x"`)), ErrMalformedPayload)

	require.NoError(t, e.ApplyControl([]byte(`{"url":"https://pad.example.com"}`)))
	assert.Equal(t, ModeExternal, e.Mode())
	require.NoError(t, e.ApplyControl([]byte(`{"url":""}`)))
	assert.Equal(t, ModeBuiltin, e.Mode())
}

func TestAttach_BootstrapsDocumentAndPointer(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	relay := transport.NewMemoryRelay(clock)
	host := attached(t, relay, clock)

	require.NoError(t, host.Edit("<p>minutes</p>"))
	host.Flush()
	require.NoError(t, host.SetExternalURL(context.Background(), "https://pad.example.com"))

	late := attached(t, relay, clock)
	assert.Equal(t, Snapshot{Document: "<p>minutes</p>", ExternalURL: "https://pad.example.com"}, late.Snapshot())
}

func TestClose_StopsPendingPublish(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	relay := transport.NewMemoryRelay(clock)
	e := attached(t, relay, clock)

	require.NoError(t, e.Edit("unsent"))
	e.Close()
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, relay.History(transport.TopicNotes))
	assert.ErrorIs(t, e.Edit("again"), ErrClosed)
}
