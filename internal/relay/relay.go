// Package relay reframes an upstream SSE completion stream into the downstream
// thinking/answer event protocol.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"lawchat-gateway/internal/citation"
	"lawchat-gateway/internal/models"
)

const maxFrameBytes = 1 << 20

const minRepeatRunes = 24

// ErrIdleTimeout is returned when the upstream sent nothing for longer than the idle timeout.
var ErrIdleTimeout = errors.New("upstream stream idle timeout")

// State is the relay's position in the stream lifecycle.
type State int

const (
	AwaitingFirstByte State = iota
	Thinking
	Answering
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingFirstByte:
		return "awaiting_first_byte"
	case Thinking:
		return "thinking"
	case Answering:
		return "answering"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sink receives downstream events in order. Close writes the end-of-stream sentinel.
type Sink interface {
	Send(ev models.StreamEvent) error
	Close() error
}

// Backfiller fetches the full non-streaming answer once the answer phase begins.
type Backfiller func(ctx context.Context) (*models.ReconciledAnswer, error)

// Options configure one relay.
type Options struct {
	ShowThinking bool
	// IdleTimeout bounds the gap between upstream reads. Zero disables it.
	IdleTimeout time.Duration
	Backfill    Backfiller
}

// Relay holds the per-stream state. A Relay serves exactly one stream.
type Relay struct {
	opts  Options
	sink  Sink
	state State

	thinkingStarted bool
	thinkingEnded   bool
	answered        strings.Builder
	references      []models.Reference
	grounded        bool

	backfill       errgroup.Group
	backfillResult *models.ReconciledAnswer
	backfillCtx    context.Context
	backfillStart  bool
}

// New constructs a relay.
func New(opts Options) *Relay {
	return &Relay{opts: opts, state: AwaitingFirstByte}
}

// State reports the current lifecycle state.
func (r *Relay) State() State {
	return r.state
}

// Run consumes upstream until the [DONE] sentinel, end of input, an error or ctx
// cancellation, writing events to sink. upstream is closed before Run returns.
// Cancellation of ctx stops the relay without writing further events.
func (r *Relay) Run(ctx context.Context, upstream io.ReadCloser, sink Sink) error {
	r.sink = sink
	defer upstream.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.backfillCtx = ctx

	stop := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stop()

	var idle atomic.Bool
	reader := io.Reader(upstream)
	if r.opts.IdleTimeout > 0 {
		timer := time.AfterFunc(r.opts.IdleTimeout, func() {
			idle.Store(true)
			_ = upstream.Close()
		})
		defer timer.Stop()
		reader = &idleReader{r: upstream, timer: timer, timeout: r.opts.IdleTimeout}
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	scanner.Split(SplitFrames)

	for scanner.Scan() {
		payload, ok := framePayload(scanner.Bytes())
		if !ok {
			continue
		}
		if payload == doneSentinel {
			return r.finish(ctx)
		}
		if err := r.handlePayload(payload); err != nil {
			return err
		}
		if r.state == Failed {
			return errors.New("upstream reported an error mid-stream")
		}
	}

	err := scanner.Err()
	switch {
	case ctx.Err() != nil && !idle.Load():
		r.state = Failed
		return ctx.Err()
	case idle.Load():
		return r.fail(fmt.Sprintf("upstream sent no data for %s", r.opts.IdleTimeout), ErrIdleTimeout)
	case err != nil:
		return r.fail("upstream stream read failed", fmt.Errorf("read upstream stream: %w", err))
	}

	slog.Debug("upstream stream ended without done sentinel", "state", r.state.String())
	return r.finish(ctx)
}

func (r *Relay) handlePayload(payload string) error {
	if msg := gjson.Get(payload, "error.message"); msg.Exists() {
		r.state = Failed
		return r.emit(models.StreamEvent{Type: models.EventError, Message: msg.String()})
	}

	var frag models.CompletionResponse
	if err := json.Unmarshal([]byte(payload), &frag); err != nil {
		slog.Warn("skipping unparsable stream frame", "err", err, "bytes", len(payload))
		return nil
	}

	cand := frag.FirstCandidate()
	if cand == nil {
		return nil
	}

	incremental := cand.Delta != nil && len(cand.Delta.Parts) > 0
	parts := cand.Parts()
	if incremental {
		parts = cand.Delta.Parts
	}

	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		var err error
		if p.Thought {
			err = r.thought(p.Text)
		} else {
			if !incremental && r.repeatsAnswer(p.Text, cand.FinishReason != "") {
				continue
			}
			err = r.answer(p.Text)
		}
		if err != nil {
			return err
		}
	}

	if md := cand.GroundingMetadata; !r.grounded && md != nil && len(md.GroundingChunks) > 0 {
		r.grounded = true
		r.references = citation.ReferencesFromChunks(md.GroundingChunks)
		return r.emit(models.StreamEvent{Type: models.EventGrounding, References: r.references})
	}
	return nil
}

func (r *Relay) thought(text string) error {
	if !r.opts.ShowThinking || r.state == Answering {
		return nil
	}
	if !r.thinkingStarted {
		r.thinkingStarted = true
		r.state = Thinking
		if err := r.emit(models.StreamEvent{Type: models.EventThinkingStart}); err != nil {
			return err
		}
	}
	return r.emit(models.StreamEvent{Type: models.EventThinkingChunk, Content: text})
}

func (r *Relay) answer(text string) error {
	if text == "" {
		return nil
	}
	if r.state != Answering {
		if err := r.endThinking(); err != nil {
			return err
		}
		r.state = Answering
		if err := r.emit(models.StreamEvent{Type: models.EventAnswerStart}); err != nil {
			return err
		}
		r.startBackfill()
	}
	r.answered.WriteString(text)
	return r.emit(models.StreamEvent{Type: models.EventAnswerChunk, Content: text})
}

func (r *Relay) endThinking() error {
	if !r.thinkingStarted || r.thinkingEnded {
		return nil
	}
	r.thinkingEnded = true
	return r.emit(models.StreamEvent{Type: models.EventThinkingEnd})
}

// repeatsAnswer reports whether a content.parts fragment re-sends the whole answer
// relayed so far. Short fragments only count as repeats on the finishing frame,
// since single tokens legitimately recur.
func (r *Relay) repeatsAnswer(text string, finishing bool) bool {
	if text != r.answered.String() {
		return false
	}
	return finishing || utf8.RuneCountInString(text) >= minRepeatRunes
}

func (r *Relay) startBackfill() {
	if r.opts.Backfill == nil || r.backfillStart {
		return
	}
	r.backfillStart = true
	ctx := r.backfillCtx
	r.backfill.Go(func() error {
		ans, err := r.opts.Backfill(ctx)
		if err != nil {
			slog.Warn("stream backfill failed", "err", err)
			return nil
		}
		r.backfillResult = ans
		return nil
	})
}

func (r *Relay) finish(ctx context.Context) error {
	if err := r.endThinking(); err != nil {
		return err
	}

	complete := models.StreamEvent{Type: models.EventComplete}
	if r.backfillStart {
		_ = r.backfill.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ans := r.backfillResult; ans != nil {
			complete.Answer = backfillText(ans)
			if len(r.references) == 0 && len(ans.References) > 0 {
				r.references = ans.References
				if err := r.emit(models.StreamEvent{Type: models.EventGrounding, References: r.references}); err != nil {
					return err
				}
			}
		}
	}

	r.state = Done
	complete.References = r.references
	if complete.References == nil {
		complete.References = []models.Reference{}
	}
	if err := r.emit(complete); err != nil {
		return err
	}
	return r.sink.Close()
}

func backfillText(ans *models.ReconciledAnswer) string {
	cand := ans.Response.FirstCandidate()
	if cand == nil {
		return Cleanup(ans.Text)
	}
	collapsed := CollapseDuplicateAnswers(*cand)
	parts := collapsed.AnswerParts()
	if len(parts) == 0 {
		return Cleanup(ans.Text)
	}
	return Cleanup(parts[0].Text)
}

func (r *Relay) fail(message string, cause error) error {
	r.state = Failed
	if err := r.emit(models.StreamEvent{Type: models.EventError, Message: message}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (r *Relay) emit(ev models.StreamEvent) error {
	if err := r.sink.Send(ev); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}

// idleReader pushes the idle deadline forward on every successful read.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.timeout)
	}
	return n, err
}
