package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawchat-gateway/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.StreamEvent
	closed bool
}

func (s *recordingSink) Send(ev models.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) types() []models.EventType {
	out := make([]models.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// chunkReader returns each chunk from a separate Read call, then err (io.EOF when nil).
type chunkReader struct {
	chunks []string
	err    error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkReader) Close() error { return nil }

func stream(chunks ...string) *chunkReader {
	return &chunkReader{chunks: chunks}
}

func fragment(t *testing.T, md *models.GroundingMetadata, parts ...models.Part) string {
	t.Helper()
	data, err := json.Marshal(models.CompletionResponse{Candidates: []models.Candidate{{
		Content:           &models.Content{Role: "model", Parts: parts},
		GroundingMetadata: md,
	}}})
	require.NoError(t, err)
	return "data: " + string(data) + "\n\n"
}

func deltaFragment(t *testing.T, content, delta []models.Part) string {
	t.Helper()
	data, err := json.Marshal(models.CompletionResponse{Candidates: []models.Candidate{{
		Content: &models.Content{Parts: content},
		Delta:   &models.Content{Parts: delta},
	}}})
	require.NoError(t, err)
	return "data: " + string(data) + "\n\n"
}

func thought(text string) models.Part { return models.Part{Text: text, Thought: true} }
func answer(text string) models.Part  { return models.Part{Text: text} }

func TestRunDoneSentinelSplitAcrossReads(t *testing.T) {
	sink := &recordingSink{}
	frame := fragment(t, nil, answer("hello"))
	r := New(Options{})

	err := r.Run(context.Background(), stream(frame+"data: [DO", "NE]\n\n"), sink)
	require.NoError(t, err)

	assert.Equal(t, []models.EventType{models.EventAnswerStart, models.EventAnswerChunk, models.EventComplete}, sink.types())
	assert.Equal(t, "hello", sink.events[1].Content)
	assert.Equal(t, []models.Reference{}, sink.events[2].References)
	assert.True(t, sink.closed)
	assert.Equal(t, Done, r.State())
}

func TestRunPhaseOrdering(t *testing.T) {
	md := &models.GroundingMetadata{GroundingChunks: []models.GroundingChunk{
		{Web: &models.WebSource{Title: "全國法規資料庫", URI: "https://law.moj.gov.tw"}},
	}}
	sink := &recordingSink{}
	input := fragment(t, nil, thought("先確認")) +
		fragment(t, nil, thought("構成要件")) +
		fragment(t, nil, answer("依民法")) +
		fragment(t, md, answer("第184條")) +
		fragment(t, md, answer("。")) +
		"data: [DONE]\n\n"

	err := New(Options{ShowThinking: true}).Run(context.Background(), stream(input), sink)
	require.NoError(t, err)

	assert.Equal(t, []models.EventType{
		models.EventThinkingStart,
		models.EventThinkingChunk,
		models.EventThinkingChunk,
		models.EventThinkingEnd,
		models.EventAnswerStart,
		models.EventAnswerChunk,
		models.EventAnswerChunk,
		models.EventGrounding,
		models.EventAnswerChunk,
		models.EventComplete,
	}, sink.types())

	want := []models.Reference{{ID: 1, Title: "全國法規資料庫", URL: "https://law.moj.gov.tw"}}
	assert.Equal(t, want, sink.events[7].References)
	assert.Equal(t, want, sink.events[9].References)
}

func TestRunHidesThinking(t *testing.T) {
	sink := &recordingSink{}
	input := fragment(t, nil, thought("hidden"), answer("shown")) + "data: [DONE]\n\n"

	require.NoError(t, New(Options{}).Run(context.Background(), stream(input), sink))
	assert.Equal(t, []models.EventType{models.EventAnswerStart, models.EventAnswerChunk, models.EventComplete}, sink.types())
}

func TestRunIgnoresLateThoughts(t *testing.T) {
	sink := &recordingSink{}
	input := fragment(t, nil, answer("a")) + fragment(t, nil, thought("late")) + "data: [DONE]\n\n"

	require.NoError(t, New(Options{ShowThinking: true}).Run(context.Background(), stream(input), sink))
	assert.Equal(t, []models.EventType{models.EventAnswerStart, models.EventAnswerChunk, models.EventComplete}, sink.types())
}

func TestRunThinkingOnlyStreamEndsThinking(t *testing.T) {
	sink := &recordingSink{}
	input := fragment(t, nil, thought("only thinking")) + "data: [DONE]\n\n"

	require.NoError(t, New(Options{ShowThinking: true}).Run(context.Background(), stream(input), sink))
	assert.Equal(t, []models.EventType{
		models.EventThinkingStart, models.EventThinkingChunk, models.EventThinkingEnd, models.EventComplete,
	}, sink.types())
}

func TestRunSkipsUnparsableFrames(t *testing.T) {
	sink := &recordingSink{}
	input := "data: {not json\n\n" + ": ping\n\n" + "event: noise\n\n" + fragment(t, nil, answer("ok")) + "data: [DONE]\n\n"

	require.NoError(t, New(Options{}).Run(context.Background(), stream(input), sink))
	assert.Equal(t, []models.EventType{models.EventAnswerStart, models.EventAnswerChunk, models.EventComplete}, sink.types())
}

func TestRunJoinsMultiLineData(t *testing.T) {
	sink := &recordingSink{}
	input := "data: {\"candidates\": [\r\ndata: {\"content\": {\"parts\": [{\"text\": \"joined\"}]}}]}\r\n\r\n" + "data: [DONE]\r\n\r\n"

	require.NoError(t, New(Options{}).Run(context.Background(), stream(input), sink))
	require.Len(t, sink.events, 3)
	assert.Equal(t, "joined", sink.events[1].Content)
}

func finishingFragment(t *testing.T, parts ...models.Part) string {
	t.Helper()
	data, err := json.Marshal(models.CompletionResponse{Candidates: []models.Candidate{{
		Content:      &models.Content{Role: "model", Parts: parts},
		FinishReason: "STOP",
	}}})
	require.NoError(t, err)
	return "data: " + string(data) + "\n\n"
}

func answerChunks(events []models.StreamEvent) []string {
	var chunks []string
	for _, ev := range events {
		if ev.Type == models.EventAnswerChunk {
			chunks = append(chunks, ev.Content)
		}
	}
	return chunks
}

func TestRunAnswerRepeats(t *testing.T) {
	long := "依民法第184條規定，因故意或過失不法侵害他人之權利者，負損害賠償責任。"

	tests := []struct {
		name  string
		input func(t *testing.T) string
		want  []string
	}{
		{
			name: "short tokens recur",
			input: func(t *testing.T) string {
				return fragment(t, nil, answer("哈")) + fragment(t, nil, answer("哈")) + fragment(t, nil, answer("哈的判決"))
			},
			want: []string{"哈", "哈", "哈的判決"},
		},
		{
			name: "incremental prefix kept whole",
			input: func(t *testing.T) string {
				return fragment(t, nil, answer("依民法")) + fragment(t, nil, answer("依民法第184條"))
			},
			want: []string{"依民法", "依民法第184條"},
		},
		{
			name: "whole answer resent on finishing frame",
			input: func(t *testing.T) string {
				return fragment(t, nil, answer("依民法")) + fragment(t, nil, answer("第184條")) +
					finishingFragment(t, answer("依民法第184條"))
			},
			want: []string{"依民法", "第184條"},
		},
		{
			name: "short token on finishing frame",
			input: func(t *testing.T) string {
				return fragment(t, nil, answer("好")) + finishingFragment(t, answer("好"))
			},
			want: []string{"好"},
		},
		{
			name: "long answer resent",
			input: func(t *testing.T) string {
				return fragment(t, nil, answer(long)) + fragment(t, nil, answer(long))
			},
			want: []string{long},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			input := tt.input(t) + "data: [DONE]\n\n"

			require.NoError(t, New(Options{}).Run(context.Background(), stream(input), sink))
			assert.Equal(t, tt.want, answerChunks(sink.events))
		})
	}
}

func TestRunPrefersDeltaParts(t *testing.T) {
	sink := &recordingSink{}
	input := deltaFragment(t, []models.Part{answer("full segment")}, []models.Part{answer("delta")}) + "data: [DONE]\n\n"

	require.NoError(t, New(Options{}).Run(context.Background(), stream(input), sink))
	require.Len(t, sink.events, 3)
	assert.Equal(t, "delta", sink.events[1].Content)
}

func TestRunEOFWithoutSentinel(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, New(Options{}).Run(context.Background(), stream(fragment(t, nil, answer("x"))), sink))
	assert.Equal(t, models.EventComplete, sink.events[len(sink.events)-1].Type)
	assert.True(t, sink.closed)
}

func TestRunUpstreamErrorPayload(t *testing.T) {
	sink := &recordingSink{}
	input := fragment(t, nil, answer("partial")) +
		"data: {\"error\": {\"code\": 500, \"message\": \"Internal error encountered.\"}}\n\n" +
		fragment(t, nil, answer("never")) + "data: [DONE]\n\n"

	r := New(Options{})
	err := r.Run(context.Background(), stream(input), sink)
	require.Error(t, err)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, models.EventError, last.Type)
	assert.Equal(t, "Internal error encountered.", last.Message)
	assert.Len(t, sink.events, 3)
	assert.False(t, sink.closed)
	assert.Equal(t, Failed, r.State())
}

func TestRunReadError(t *testing.T) {
	sink := &recordingSink{}
	upstream := &chunkReader{chunks: []string{fragment(t, nil, answer("a"))}, err: errors.New("connection reset")}

	err := New(Options{}).Run(context.Background(), upstream, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, models.EventError, sink.events[len(sink.events)-1].Type)
}

func TestRunIdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	sink := &recordingSink{}

	err := New(Options{IdleTimeout: 20 * time.Millisecond}).Run(context.Background(), pr, sink)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	require.Len(t, sink.events, 1)
	assert.Equal(t, models.EventError, sink.events[0].Type)
}

func TestRunClientCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	sink := &recordingSink{}

	frame := fragment(t, nil, answer("a"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _ = io.WriteString(pw, frame)
		cancel()
	}()

	err := New(Options{}).Run(ctx, pr, sink)
	assert.ErrorIs(t, err, context.Canceled)
	for _, ev := range sink.events {
		assert.NotEqual(t, models.EventError, ev.Type)
		assert.NotEqual(t, models.EventComplete, ev.Type)
	}
}

func TestRunBackfill(t *testing.T) {
	calls := 0
	backfill := func(ctx context.Context) (*models.ReconciledAnswer, error) {
		calls++
		return &models.ReconciledAnswer{
			Text: "ignored",
			Response: &models.CompletionResponse{Candidates: []models.Candidate{{
				Content: &models.Content{Parts: []models.Part{
					thought("t"),
					answer("短"),
					answer("完整答案[1]。\n\n\n\n---\n參考資料\n- 《民法》第184條"),
				}},
			}}},
			References: []models.Reference{{ID: 1, Title: "《民法》第184條"}},
		}, nil
	}

	sink := &recordingSink{}
	input := fragment(t, nil, answer("完整")) + fragment(t, nil, answer("答案")) + "data: [DONE]\n\n"
	require.NoError(t, New(Options{Backfill: backfill}).Run(context.Background(), stream(input), sink))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []models.EventType{
		models.EventAnswerStart,
		models.EventAnswerChunk,
		models.EventAnswerChunk,
		models.EventGrounding,
		models.EventComplete,
	}, sink.types())
	complete := sink.events[4]
	assert.Equal(t, "完整答案。", complete.Answer)
	assert.Equal(t, []models.Reference{{ID: 1, Title: "《民法》第184條"}}, complete.References)
}

func TestRunBackfillKeepsStreamReferences(t *testing.T) {
	md := &models.GroundingMetadata{GroundingChunks: []models.GroundingChunk{{Web: &models.WebSource{Title: "S", URI: "https://s.tw"}}}}
	backfill := func(ctx context.Context) (*models.ReconciledAnswer, error) {
		return &models.ReconciledAnswer{Text: "x", References: []models.Reference{{ID: 1, Title: "other"}}}, nil
	}

	sink := &recordingSink{}
	input := fragment(t, md, answer("x")) + "data: [DONE]\n\n"
	require.NoError(t, New(Options{Backfill: backfill}).Run(context.Background(), stream(input), sink))

	complete := sink.events[len(sink.events)-1]
	assert.Equal(t, "S", complete.References[0].Title)
	assert.Equal(t, "x", complete.Answer)
}

func TestRunBackfillFailureIgnored(t *testing.T) {
	backfill := func(ctx context.Context) (*models.ReconciledAnswer, error) {
		return nil, errors.New("upstream down")
	}

	sink := &recordingSink{}
	input := fragment(t, nil, answer("x")) + "data: [DONE]\n\n"
	require.NoError(t, New(Options{Backfill: backfill}).Run(context.Background(), stream(input), sink))

	complete := sink.events[len(sink.events)-1]
	assert.Equal(t, models.EventComplete, complete.Type)
	assert.Empty(t, complete.Answer)
}

func TestSplitFrames(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		atEOF   bool
		advance int
		token   string
	}{
		{name: "lf frame", data: "data: a\n\nrest", advance: 9, token: "data: a"},
		{name: "crlf frame", data: "data: a\r\n\r\nrest", advance: 11, token: "data: a"},
		{name: "earliest terminator wins", data: "a\n\nb\r\n\r\n", advance: 3, token: "a"},
		{name: "partial frame", data: "data: [DO"},
		{name: "trailing frame at eof", data: "data: x", atEOF: true, advance: 7, token: "data: x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advance, token, err := SplitFrames([]byte(tt.data), tt.atEOF)
			require.NoError(t, err)
			assert.Equal(t, tt.advance, advance)
			assert.Equal(t, tt.token, string(token))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "answering", Answering.String())
	assert.True(t, strings.HasPrefix(State(42).String(), "state("))
}
