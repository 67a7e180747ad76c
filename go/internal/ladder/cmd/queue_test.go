package main

import (
	"bytes"
	"testing"

	"github.com/mcdev12/ladder/go/internal/session"
	"github.com/mcdev12/ladder/go/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState() session.State {
	st := session.InitialState()
	st.Speakers = []session.Speaker{
		{ID: "s1", Name: "Ada", Status: session.StatusDone},
		{ID: "s2", Name: "Grace Hopper", Status: session.StatusPresent, Breakout: true},
		{ID: "s3", Name: "Linus", Status: session.StatusWaiting},
	}
	return st
}

func TestResolveSpeaker(t *testing.T) {
	st := testState()
	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{ref: "s3", want: "s3"},
		{ref: "#1", want: "s1"},
		{ref: "grace hopper", want: "s2"},
		{ref: "#0", wantErr: session.ErrIndexOutOfRange},
		{ref: "#4", wantErr: session.ErrIndexOutOfRange},
		{ref: "Barbara", wantErr: session.ErrSpeakerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := resolveSpeaker(st, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderText(t *testing.T) {
	st := testState()
	v := timer.View{Phase: session.PhasePresent, Display: "00:00", Color: timer.ColorDanger, Running: true, Expired: true}

	var out bytes.Buffer
	require.NoError(t, renderState(&out, "text", st, v))

	text := out.String()
	assert.Contains(t, text, "Grace Hopper  present  00:00 [running, danger]")
	assert.Contains(t, text, "over time")
	assert.Contains(t, text, "Speaker 2 of 3, 1 waiting")
}

func TestQueueKey(t *testing.T) {
	st := testState()
	key := queueKey(st)

	st.Speakers[2].Name = "Linus T"
	assert.NotEqual(t, key, queueKey(st))
}

func TestTimerLine_States(t *testing.T) {
	st := testState()
	idle := timer.View{Phase: session.PhasePresent, Display: "05:00", Color: timer.ColorPresent}

	assert.Equal(t, "Grace Hopper  present  05:00 [ready, present]", timerLine(st, idle))

	st.PausedElapsed = 42
	assert.Equal(t, "Grace Hopper  present  05:00 [paused, present]", timerLine(st, idle))

	running := idle
	running.Running = true
	running.Display = "04:18"
	assert.Equal(t, "Grace Hopper  present  04:18 [running, present]", timerLine(st, running))

	assert.Equal(t, "Idle  present 5m / Q&A 5m", timerLine(session.InitialState(), idle))
}
