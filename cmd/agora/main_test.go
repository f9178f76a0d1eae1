package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/agora/internal/store"
)

func TestWSURLForThread(t *testing.T) {
	got, err := wsURLForThread("http://127.0.0.1:8080", "th-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/v1/threads/th-1/ws", got)

	got, err = wsURLForThread("https://agora.example.com/base/", "th 2")
	require.NoError(t, err)
	assert.Equal(t, "wss://agora.example.com/base/v1/threads/th%202/ws", got)

	_, err = wsURLForThread("ftp://agora.example.com", "th-1")
	assert.Error(t, err)
}

func TestSplitTexts(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, splitTexts(" a | | b c |"))
	assert.Nil(t, splitTexts("  |  "))
}

func TestReplayReportPercentile(t *testing.T) {
	assert.Zero(t, replayReport{}.percentile(0.95))

	r := replayReport{Latencies: []time.Duration{
		50 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
	}}
	assert.Equal(t, 30*time.Millisecond, r.percentile(0.50))
	assert.Equal(t, 50*time.Millisecond, r.percentile(0.95))
	assert.Equal(t, 10*time.Millisecond, r.Latencies[1], "percentile must not reorder the report")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "agora dev")
}

func TestAggregateCommand(t *testing.T) {
	ctx := context.Background()
	dbURL := "sqlite:" + filepath.Join(t.TempDir(), "agora.db")

	st, err := store.Open(ctx, dbURL)
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, store.Session{Topic: "Office move", Goal: "Pick a neighbourhood"})
	require.NoError(t, err)
	current, err := st.CreateThread(ctx, store.Thread{SessionID: sess.ID})
	require.NoError(t, err)
	other, err := st.CreateThread(ctx, store.Thread{SessionID: sess.ID})
	require.NoError(t, err)
	_, err = st.AppendMessage(ctx, store.Message{ThreadID: current.ID, Role: store.RoleUser, Content: "I only care about parking."})
	require.NoError(t, err)
	_, err = st.AppendMessage(ctx, store.Message{ThreadID: other.ID, Role: store.RoleUser, Content: "Rent is what matters most."})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	run := func(args ...string) string {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"aggregate", "--database-url", dbURL, "--session", sess.ID}, args...))
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	got := run("--exclude-thread", current.ID)
	assert.Contains(t, got, "Participant-1")
	assert.Contains(t, got, "Rent is what matters most.")
	assert.NotContains(t, got, "parking")

	got = run("--exclude-thread", other.ID)
	assert.Contains(t, got, "parking")
	assert.NotContains(t, got, "Rent")
}

func TestAggregateCommandRequiresSession(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"aggregate"})
	assert.Error(t, cmd.Execute())
}
