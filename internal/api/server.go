package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mnnllm/internal/catalog"
	"github.com/samcharles93/mnnllm/internal/logger"
	"github.com/samcharles93/mnnllm/internal/mnn"
)

type Server struct {
	handle  *mnn.Handle
	catalog *catalog.Catalog
	jobs    *JobStore
	clock   func() time.Time
	log     logger.Logger

	// ctx bounds background jobs; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Server)

func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func WithJobStore(store *JobStore) Option {
	return func(s *Server) {
		if store != nil {
			s.jobs = store
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewServer(handle *mnn.Handle, cat *catalog.Catalog, opts ...Option) *Server {
	if cat == nil {
		cat = catalog.New(catalog.Config{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handle:  handle,
		catalog: cat,
		jobs:    NewJobStore(0),
		clock:   time.Now,
		log:     logger.Discard(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "api")
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/model/load", s.handleLoad)
	e.POST("/v1/model/unload", s.handleUnload)
	e.GET("/v1/models", s.handleModels)

	e.POST("/v1/chat", s.handleChat)
	e.POST("/v1/chat/jobs", s.handleCreateChatJob)

	e.GET("/v1/jobs/:id", s.handleGetJob)
	e.DELETE("/v1/jobs/:id", s.handleCancelJob)
}

// Close cancels running jobs and waits for their callbacks.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetJob(c *echo.Context) error {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *echo.Context) error {
	job, ok := s.jobs.Cancel(c.Param("id"), s.clock())
	if !ok {
		return writeNotFound(c, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

// startJob registers job and hands run a context that Close and job
// cancellation both end. run must eventually call done; later calls are
// ignored.
func (s *Server) startJob(job Job, run func(ctx context.Context, done func(*ChatResponse, error))) Job {
	ctx, cancel := context.WithCancel(s.ctx)
	job = s.jobs.Create(job, cancel)
	s.wg.Add(1)
	var once sync.Once
	id := job.ID
	run(ctx, func(res *ChatResponse, err error) {
		once.Do(func() {
			s.jobs.Finish(id, res, err, s.clock())
			cancel()
			s.wg.Done()
		})
	})
	return job
}
