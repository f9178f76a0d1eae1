package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/agora/internal/protocol"
)

var defaultReplayTexts = []string{
	"I think the biggest issue is cost.",
	"My team mostly cares about commute times.",
	"We tried remote-first before and it felt isolating.",
	"Honestly I'd trade a longer commute for a quieter office.",
	"Our clients visit often, so location matters to them too.",
}

type replayOptions struct {
	baseURL     string
	topic       string
	goal        string
	threads     int
	turns       int
	texts       []string
	turnTimeout time.Duration
	verbose     bool
}

type replayReport struct {
	Turns         int
	Interjections int
	Latencies     []time.Duration
}

func (r replayReport) percentile(q float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(r.Latencies)
	slices.Sort(sorted)
	idx := int(q*float64(len(sorted)-1) + 0.5)
	return sorted[idx]
}

func newReplayCmd() *cobra.Command {
	var (
		opts     replayOptions
		textsRaw string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay synthetic participant turns against a running server",
		Long:  "Creates a session with several threads, sends turns over each thread's websocket and reports reply latency and interjection counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(textsRaw) != "" {
				opts.texts = splitTexts(textsRaw)
			}
			if len(opts.texts) == 0 {
				opts.texts = defaultReplayTexts
			}
			if opts.threads <= 0 || opts.turns <= 0 {
				return fmt.Errorf("--threads and --turns must be positive")
			}
			report, err := runReplay(cmd.Context(), cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replay: turns=%d interjections=%d p50=%s p95=%s\n",
				report.Turns, report.Interjections, report.percentile(0.50), report.percentile(0.95))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "agora base URL")
	cmd.Flags().StringVar(&opts.topic, "topic", "Where should the new office be?", "session topic")
	cmd.Flags().StringVar(&opts.goal, "goal", "Shortlist two neighbourhoods", "session goal")
	cmd.Flags().IntVar(&opts.threads, "threads", 3, "number of participant threads")
	cmd.Flags().IntVar(&opts.turns, "turns", 5, "turns per thread")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 30*time.Second, "timeout waiting for a reply per turn")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print replay progress")
	return cmd
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runReplay(parent context.Context, out io.Writer, opts replayOptions) (replayReport, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 10*time.Minute)
	defer cancel()

	client := &http.Client{Timeout: 45 * time.Second}
	var sess struct {
		ID string `json:"session_id"`
	}
	if err := postJSON(ctx, client, opts.baseURL+"/v1/sessions", map[string]string{"topic": opts.topic, "goal": opts.goal}, &sess); err != nil {
		return replayReport{}, fmt.Errorf("create session: %w", err)
	}

	conns := make([]*websocket.Conn, opts.threads)
	threadIDs := make([]string, opts.threads)
	defer func() {
		for _, c := range conns {
			if c != nil {
				_ = c.Close()
			}
		}
	}()
	for i := range conns {
		var thread struct {
			ID string `json:"thread_id"`
		}
		if err := postJSON(ctx, client, opts.baseURL+"/v1/sessions/"+url.PathEscape(sess.ID)+"/threads", map[string]string{"participant_id": fmt.Sprintf("replay-%d", i+1)}, &thread); err != nil {
			return replayReport{}, fmt.Errorf("create thread: %w", err)
		}
		wsURL, err := wsURLForThread(opts.baseURL, thread.ID)
		if err != nil {
			return replayReport{}, fmt.Errorf("build ws URL: %w", err)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return replayReport{}, fmt.Errorf("open websocket: %w", err)
		}
		conns[i] = conn
		threadIDs[i] = thread.ID
	}
	if opts.verbose {
		fmt.Fprintf(out, "replay: session=%s threads=%d turns=%d\n", sess.ID, opts.threads, opts.turns)
	}

	var report replayReport
	for turn := 0; turn < opts.turns; turn++ {
		for i, conn := range conns {
			text := opts.texts[(turn*opts.threads+i)%len(opts.texts)]
			started := time.Now()
			kind, err := sendTurn(conn, threadIDs[i], fmt.Sprintf("t%d-%d", i, turn), text, opts.turnTimeout)
			if err != nil {
				return report, fmt.Errorf("thread %d turn %d: %w", i+1, turn+1, err)
			}
			report.Turns++
			report.Latencies = append(report.Latencies, time.Since(started))
			if kind == protocol.TypeInterjection {
				report.Interjections++
			}
			if opts.verbose {
				fmt.Fprintf(out, "replay: thread=%d turn=%d reply=%s in %s\n", i+1, turn+1, kind, time.Since(started).Round(time.Millisecond))
			}
		}
	}
	return report, nil
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// sendTurn writes one user message and waits for the reply that closes it.
func sendTurn(conn *websocket.Conn, threadID, clientMsgID, text string, timeout time.Duration) (protocol.MessageType, error) {
	if err := conn.WriteJSON(protocol.UserMessage{
		Type:        protocol.TypeUserMessage,
		ThreadID:    threadID,
		ClientMsgID: clientMsgID,
		Content:     text,
	}); err != nil {
		return "", err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch protocol.MessageType(env.Type) {
		case protocol.TypeAssistantReply, protocol.TypeInterjection:
			return protocol.MessageType(env.Type), nil
		case protocol.TypeErrorEvent:
			return "", fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
		}
	}
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusCreated {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

func wsURLForThread(baseURL, threadID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/threads/" + threadID + "/ws"
	return u.String(), nil
}
