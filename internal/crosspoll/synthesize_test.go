package crosspoll

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/agora/internal/completion"
	"github.com/ent0n29/agora/internal/store"
)

func siblingAggregation(t *testing.T, f *fixture) Aggregation {
	t.Helper()
	f.thread(t, "B")
	f.say(t, "B", "I worry our rent will double.", "Why double?", "My landlord said so.")
	agg, err := NewAggregator(f.store).Aggregate(context.Background(), f.session.ID, "A")
	require.NoError(t, err)
	return agg
}

func TestSynthesizeReturnsTrimmedText(t *testing.T) {
	f := newFixture(t)
	f.svc.synthReply = "\n  Others mention rising costs. How does cost shape your view?  \n"
	agg := siblingAggregation(t, f)

	q, ok := NewSynthesizer(f.svc, time.Second, nil, nil).Synthesize(context.Background(), nil, agg, f.session.Meta())

	assert.True(t, ok)
	assert.Equal(t, "Others mention rising costs. How does cost shape your view?", q)
}

func TestSynthesizeFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "error", err: errors.New("upstream 500")},
		{name: "timeout", err: context.DeadlineExceeded},
		{name: "empty", reply: "   "},
		{name: "empty response", err: completion.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.synthReply, f.svc.synthErr = tt.reply, tt.err
			agg := siblingAggregation(t, f)

			q, ok := NewSynthesizer(f.svc, time.Second, nil, nil).Synthesize(context.Background(), nil, agg, f.session.Meta())

			assert.False(t, ok)
			assert.Equal(t, FallbackQuestion, q)
		})
	}
}

func TestSynthesizePayloadIsAnonymized(t *testing.T) {
	f := newFixture(t)
	agg := siblingAggregation(t, f)
	current := []store.Message{
		{Role: store.RoleUser, Content: "We want to stay central."},
		{Role: store.RoleAssistant, Content: "What does central give you?"},
	}

	_, ok := NewSynthesizer(f.svc, time.Second, nil, nil).Synthesize(context.Background(), current, agg, f.session.Meta())
	require.True(t, ok)
	require.Len(t, f.svc.payloads, 1)

	var payload synthesisPayload
	require.NoError(t, json.Unmarshal([]byte(f.svc.payloads[0]), &payload))
	assert.Equal(t, "Office move", payload.Session.Topic)
	require.Len(t, payload.CurrentThread, 2)
	assert.Equal(t, "Participant", payload.CurrentThread[0].Speaker)
	require.Len(t, payload.OtherPerspectives, 1)
	other := payload.OtherPerspectives[0]
	assert.Equal(t, "Participant-1", other.Participant)
	assert.Equal(t, []string{"Participant-1 worry Group-1's rent will double.", "Participant-1's landlord said so."}, other.UserUtterances)
	assert.NotContains(t, f.svc.payloads[0], "thread_id")
}

func TestSummarizeKeepsTailAndTruncates(t *testing.T) {
	var msgs []store.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, store.Message{Role: store.RoleUser, Content: "short"})
	}
	long := make([]rune, summaryRunes+50)
	for i := range long {
		long[i] = 'x'
	}
	msgs[9].Content = string(long)

	lines := summarize(msgs)

	require.Len(t, lines, summaryMessages)
	assert.Len(t, []rune(lines[len(lines)-1].Text), summaryRunes+1)
}
