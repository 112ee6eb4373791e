package mnn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/samcharles93/mnnllm/internal/segment"
)

// Result is a completed generation.
type Result struct {
	Text     string
	Tokens   int
	Duration time.Duration
}

type ChatOption func(*chatConfig)

type chatConfig struct {
	onSentence func(string)
	maxPending int
}

// WithSentences routes the token stream through a sentence splitter and calls
// fn for each complete sentence. The trailing fragment is delivered when the
// generation ends normally.
func WithSentences(fn func(sentence string)) ChatOption {
	return func(c *chatConfig) {
		c.onSentence = fn
	}
}

// WithMaxPending sets the forced-cut size of the sentence splitter.
func WithMaxPending(n int) ChatOption {
	return func(c *chatConfig) {
		c.maxPending = n
	}
}

// Chat sends question to the loaded model and blocks until generation ends.
// onToken, when non-nil, receives each fragment in generation order and is
// never called after Chat returns. If ctx ends first the native generation is
// interrupted (when supported) and ctx.Err() is returned.
func (h *Handle) Chat(ctx context.Context, question string, onToken func(token string), opts ...ChatOption) (Result, error) {
	gate := newTokenGate(onToken, opts)
	return h.generate(ctx, question, gate, func(finish func(string)) {
		go func() {
			finish(h.mod.Chat(question, gate.push))
		}()
	})
}

// ChatAsync returns immediately and hands the complete reply to done exactly
// once. No tokens are streamed; see ChatStream for the streaming variant.
func (h *Handle) ChatAsync(ctx context.Context, question string, done func(Result, error)) {
	if done == nil {
		done = func(Result, error) {}
	}
	go func() {
		gate := newTokenGate(nil, nil)
		done(h.generate(ctx, question, gate, func(finish func(string)) {
			h.mod.ChatAsync(question, finish)
		}))
	}()
}

func (h *Handle) generate(ctx context.Context, question string, gate *tokenGate, invoke func(finish func(string))) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{}, ErrEmptyQuestion
	}
	if err := h.acquire(ctx); err != nil {
		return Result{}, err
	}
	if !h.IsLoaded() {
		h.release()
		return Result{}, ErrNotLoaded
	}

	start := time.Now()
	replies := make(chan string, 1)
	var (
		once    sync.Once
		mu      sync.Mutex
		running = true
	)
	finish := func(reply string) {
		once.Do(func() {
			mu.Lock()
			running = false
			mu.Unlock()
			replies <- reply
			h.release()
		})
	}
	invoke(finish)

	select {
	case reply := <-replies:
		return h.completed(gate, reply, start)
	case <-ctx.Done():
	}

	select {
	case reply := <-replies:
		return h.completed(gate, reply, start)
	default:
	}

	// Holding mu keeps finish from releasing the slot, so the interrupt
	// cannot reach a generation queued behind this one.
	mu.Lock()
	if !running {
		mu.Unlock()
		return h.completed(gate, <-replies, start)
	}
	gate.close(false)
	interrupted := h.Interrupt()
	mu.Unlock()
	h.log.Debug("chat abandoned", "interrupted", interrupted, "err", ctx.Err())
	return Result{}, ctx.Err()
}

func (h *Handle) completed(gate *tokenGate, reply string, start time.Time) (Result, error) {
	text, n := gate.close(true)
	if reply == "" {
		reply = text
	}
	took := time.Since(start)
	if reply == "" && n == 0 {
		h.log.Warn("empty reply", "duration", took)
		return Result{}, ErrEmptyReply
	}
	h.log.Debug("chat finished", "tokens", n, "duration", took)
	return Result{Text: reply, Tokens: n, Duration: took}, nil
}

// tokenGate forwards native tokens to the caller until it is closed. Tokens
// that arrive after close are dropped.
type tokenGate struct {
	mu         sync.Mutex
	closed     bool
	onToken    func(string)
	onSentence func(string)
	splitter   *segment.Splitter
	text       strings.Builder
	count      int
}

func newTokenGate(onToken func(string), opts []ChatOption) *tokenGate {
	var cfg chatConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	g := &tokenGate{onToken: onToken, onSentence: cfg.onSentence}
	if cfg.onSentence != nil {
		g.splitter = &segment.Splitter{MaxPending: cfg.maxPending}
	}
	return g
}

func (g *tokenGate) push(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.count++
	g.text.WriteString(token)
	if g.onToken != nil {
		g.onToken(token)
	}
	if g.splitter != nil {
		for _, s := range g.splitter.Push(token) {
			g.onSentence(s)
		}
	}
}

// close stops delivery and returns the streamed text and token count. When
// flush is set the pending sentence fragment is delivered first.
func (g *tokenGate) close(flush bool) (string, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed && g.splitter != nil {
		if rest := g.splitter.Flush(); flush && rest != "" {
			g.onSentence(rest)
		}
	}
	g.closed = true
	return g.text.String(), g.count
}
