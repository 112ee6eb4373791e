package mnn

import "context"

const streamBuffer = 64

// Stream is an asynchronous, cancellable chat whose tokens are delivered on a
// channel. The channel is closed before the result resolves.
type Stream struct {
	tokens chan string
	result *Future[Result]
	cancel context.CancelFunc
}

// ChatStream starts a generation and returns immediately. The caller must
// drain Tokens or Cancel the stream; an unread channel holds back generation.
func (h *Handle) ChatStream(ctx context.Context, question string, opts ...ChatOption) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		tokens: make(chan string, streamBuffer),
		result: NewFuture[Result](),
		cancel: cancel,
	}

	go func() {
		defer cancel()
		res, err := h.Chat(ctx, question, func(tok string) {
			select {
			case st.tokens <- tok:
			case <-ctx.Done():
			}
		}, opts...)
		close(st.tokens)
		st.result.Resolve(res, err)
	}()
	return st
}

func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Done is closed once the stream has a terminal result.
func (s *Stream) Done() <-chan struct{} {
	return s.result.Done()
}

// Wait blocks until the generation finishes or ctx ends. It does not drain
// Tokens.
func (s *Stream) Wait(ctx context.Context) (Result, error) {
	return s.result.Wait(ctx)
}

// Cancel aborts the generation. Wait then reports context.Canceled unless the
// generation had already finished.
func (s *Stream) Cancel() {
	s.cancel()
}
