package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mnnllm/internal/mnn"
	"github.com/samcharles93/mnnllm/internal/segment"
)

func (s *Server) decodeChat(c *echo.Context) (ChatRequest, error) {
	req, err := decodeJSON[ChatRequest](c.Request().Body)
	if err != nil {
		return req, newInvalidRequest(err.Error())
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return req, mnn.ErrEmptyQuestion
	}
	if !s.handle.IsLoaded() {
		return req, mnn.ErrNotLoaded
	}
	return req, nil
}

func (s *Server) handleChat(c *echo.Context) error {
	req, err := s.decodeChat(c)
	if err != nil {
		return writeFacadeError(c, err)
	}
	id := newChatID()
	created := s.clock()
	if req.Stream {
		return s.streamChat(c, req, id)
	}

	var (
		sentences []string
		opts      []mnn.ChatOption
	)
	if req.Sentences {
		opts = append(opts, mnn.WithSentences(func(sentence string) {
			sentences = append(sentences, sentence)
		}))
	}
	res, err := s.handle.Chat(c.Request().Context(), req.Question, nil, opts...)
	if err != nil {
		return writeFacadeError(c, err)
	}
	resp := chatResponse(id, created, s.handle.Path(), res)
	resp.Sentences = sentences
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) streamChat(c *echo.Context, req ChatRequest, id string) error {
	created := s.clock()
	w, err := NewSSEStreamWriter(c, id)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	st := s.handle.ChatStream(c.Request().Context(), req.Question)
	abort := func(err error) error {
		st.Cancel()
		for range st.Tokens() {
		}
		s.log.Debug("stream aborted", "id", id, "error", err)
		return nil
	}
	if err := w.Begin(); err != nil {
		return abort(err)
	}

	var splitter *segment.Splitter
	if req.Sentences {
		splitter = &segment.Splitter{}
	}
	for tok := range st.Tokens() {
		if err := w.Token(tok); err != nil {
			return abort(err)
		}
		if splitter == nil {
			continue
		}
		for _, sentence := range splitter.Push(tok) {
			if err := w.Sentence(sentence); err != nil {
				return abort(err)
			}
		}
	}

	// Tokens is closed right before the result resolves.
	res, err := st.Wait(context.Background())
	if err != nil {
		if errors.Is(err, context.Canceled) && c.Request().Context().Err() != nil {
			return nil
		}
		_ = w.Failed(err)
		return w.Done()
	}
	if splitter != nil {
		if tail := splitter.Flush(); tail != "" {
			if err := w.Sentence(tail); err != nil {
				return nil
			}
		}
	}
	if err := w.Complete(chatResponse(id, created, s.handle.Path(), res)); err != nil {
		return nil
	}
	return w.Done()
}

func (s *Server) handleCreateChatJob(c *echo.Context) error {
	req, err := s.decodeChat(c)
	if err != nil {
		return writeFacadeError(c, err)
	}
	if req.Stream {
		return writeBadRequest(c, "streaming is not supported for chat jobs")
	}
	model := s.handle.Path()
	job := s.startJob(Job{
		Kind:      "chat",
		CreatedAt: s.clock().Unix(),
		Model:     model,
		Question:  req.Question,
	}, func(ctx context.Context, done func(*ChatResponse, error)) {
		s.handle.ChatAsync(ctx, req.Question, func(res mnn.Result, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			done(chatResponse(newChatID(), s.clock(), model, res), nil)
		})
	})
	return c.JSON(http.StatusAccepted, job)
}
