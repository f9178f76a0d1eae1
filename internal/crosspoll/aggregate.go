package crosspoll

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ent0n29/agora/internal/policy"
	"github.com/ent0n29/agora/internal/store"
)

const maxExchanges = 3

// Exchange pairs two consecutive thread messages. Answer is nil for a
// trailing unpaired message.
type Exchange struct {
	Question string  `json:"question"`
	Answer   *string `json:"answer"`
}

// ThreadRecord is the anonymized view of one sibling thread.
type ThreadRecord struct {
	ThreadID       string     `json:"thread_id"`
	Participant    string     `json:"participant"`
	Conversation   string     `json:"conversation"`
	UserUtterances []string   `json:"user_utterances"`
	Exchanges      []Exchange `json:"exchanges"`
}

// Aggregation is the sibling content of a session seen from one thread. A
// zero Aggregation is the empty marker.
type Aggregation struct {
	Threads []ThreadRecord `json:"threads"`
}

// Empty reports whether no sibling thread had substantive content.
func (a Aggregation) Empty() bool { return len(a.Threads) == 0 }

// Aggregator groups session messages by thread, excluding one thread.
type Aggregator struct {
	threads store.ThreadReader
}

func NewAggregator(threads store.ThreadReader) *Aggregator {
	return &Aggregator{threads: threads}
}

// Aggregate is recomputed on every call.
func (a *Aggregator) Aggregate(ctx context.Context, sessionID, excludeThreadID string) (Aggregation, error) {
	all, err := a.threads.SessionMessages(ctx, sessionID)
	if err != nil {
		return Aggregation{}, fmt.Errorf("read session messages: %w", err)
	}

	groups := make(map[string][]store.Message)
	for _, m := range all {
		if m.ThreadID == excludeThreadID || isContextSeed(m) {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		groups[m.ThreadID] = append(groups[m.ThreadID], m)
	}
	if len(groups) == 0 {
		return Aggregation{}, nil
	}

	ids := make([]string, 0, len(groups))
	for id, msgs := range groups {
		store.SortChronological(msgs)
		ids = append(ids, id)
	}
	// Stable participant numbering: earliest thread first.
	slices.SortFunc(ids, func(x, y string) int {
		if c := groups[x][0].CreatedAt.Compare(groups[y][0].CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})

	out := Aggregation{Threads: make([]ThreadRecord, 0, len(ids))}
	for i, id := range ids {
		out.Threads = append(out.Threads, buildRecord(id, groups[id], policy.NewAnonymizer(i+1)))
	}
	return out, nil
}

func buildRecord(threadID string, msgs []store.Message, anon policy.Anonymizer) ThreadRecord {
	rec := ThreadRecord{
		ThreadID:       threadID,
		Participant:    anon.Participant(),
		UserUtterances: []string{},
		Exchanges:      []Exchange{},
	}
	texts := make([]string, len(msgs))
	var conv strings.Builder
	for i, m := range msgs {
		texts[i] = anon.Anonymize(strings.TrimSpace(m.Content))
		label := policy.FacilitatorLabel
		if m.Role == store.RoleUser {
			label = anon.Participant()
			rec.UserUtterances = append(rec.UserUtterances, texts[i])
		}
		conv.WriteString(label)
		conv.WriteString(": ")
		conv.WriteString(texts[i])
		conv.WriteByte('\n')
	}
	rec.Conversation = strings.TrimRight(conv.String(), "\n")

	for i := 0; i < len(texts) && len(rec.Exchanges) < maxExchanges; i += 2 {
		ex := Exchange{Question: texts[i]}
		if i+1 < len(texts) {
			answer := texts[i+1]
			ex.Answer = &answer
		}
		rec.Exchanges = append(rec.Exchanges, ex)
	}
	return rec
}
