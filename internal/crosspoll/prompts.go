package crosspoll

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/agora/internal/store"
)

const (
	// ContextSeedMarker prefixes messages that only carry context a
	// participant pasted in before the conversation started.
	ContextSeedMarker = "User shared the following context"

	InterjectionPrefix = "💡 Cross-pollination insight: "

	FallbackQuestion = "What do you think about the perspectives other participants have shared on this topic?"

	FirstParticipantMessage = "You're one of the first to share on this topic, so there are no other perspectives to bring in yet. What feels most important to you about it so far?"
)

const gateSystemPrompt = `You are an experienced discussion facilitator running many one-on-one conversations on the same topic.
Decide whether this is a good moment to introduce perspectives from other participants into the conversation below.
A good moment is a natural pause: the participant has finished a thought, has explored the topic with some depth, and would benefit from hearing how others see it.
A bad moment is mid-story, right after a new question, or while the participant is still clarifying something.
Answer with YES or NO first, optionally followed by a short reason.`

const synthesisSystemPrompt = `You are a discussion facilitator weaving together perspectives from several private conversations on the same topic.
Write exactly one engaging question for the current participant.
Open with an inviting lead-in such as "Some others have noted..." or "Another perspective that came up is...".
Reference specific patterns or insights from the other participants, never statements that could be traced to one person.
Keep it relevant to what the current participant is focused on.
Use one or two sentences.
Never name, quote verbatim, or otherwise identify any other participant.
Reply with the question only.`

const (
	summaryMessages = 6
	summaryRunes    = 280
)

func gatePrompt(meta store.SessionMeta, transcript []store.Message, sinceLast time.Duration, triggered bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", meta.Topic)
	fmt.Fprintf(&b, "Goal: %s\n", meta.Goal)
	if meta.Description != "" {
		fmt.Fprintf(&b, "Context: %s\n", meta.Description)
	}
	fmt.Fprintf(&b, "Minutes since last cross-pollination: %s\n\n", minutesSince(sinceLast, triggered))
	b.WriteString("Conversation so far:\n")
	b.WriteString(formatTranscript(transcript))
	b.WriteString("\nIs now a good moment to introduce other participants' perspectives? Answer YES or NO.")
	return b.String()
}

func minutesSince(d time.Duration, triggered bool) string {
	if !triggered {
		return "never"
	}
	return strconv.Itoa(int(d / time.Minute))
}

func formatTranscript(msgs []store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(speaker(m.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteByte('\n')
	}
	return b.String()
}

func speaker(role store.Role) string {
	if role == store.RoleAssistant {
		return "Facilitator"
	}
	return "Participant"
}

// summarize keeps the tail of a thread, truncating long turns.
func summarize(msgs []store.Message) []summaryLine {
	if len(msgs) > summaryMessages {
		msgs = msgs[len(msgs)-summaryMessages:]
	}
	out := make([]summaryLine, 0, len(msgs))
	for _, m := range msgs {
		if isContextSeed(m) {
			continue
		}
		out = append(out, summaryLine{
			Speaker: speaker(m.Role),
			Text:    truncate(strings.TrimSpace(m.Content), summaryRunes),
		})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

func isContextSeed(m store.Message) bool {
	return strings.Contains(m.Content, ContextSeedMarker)
}
