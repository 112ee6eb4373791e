package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
)

func (s *Server) modelStatus() ModelStatus {
	return ModelStatus{
		Object: "model",
		State:  s.handle.State().String(),
		Path:   s.handle.Path(),
	}
}

func (s *Server) handleModel(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.modelStatus())
}

func (s *Server) handleLoad(c *echo.Context) error {
	req, err := decodeJSON[LoadRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	path, err := s.catalog.Resolve(req.Model)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	if req.Async {
		job := s.startJob(Job{
			Kind:      "load",
			CreatedAt: s.clock().Unix(),
			Model:     path,
		}, func(ctx context.Context, done func(*ChatResponse, error)) {
			s.handle.LoadAsync(ctx, path, func(err error) {
				if err != nil {
					s.log.Warn("background load failed", "path", path, "error", err)
				}
				done(nil, err)
			})
		})
		return c.JSON(http.StatusAccepted, job)
	}

	if err := s.handle.Load(c.Request().Context(), path); err != nil {
		return writeFacadeError(c, err)
	}
	return c.JSON(http.StatusOK, s.modelStatus())
}

func (s *Server) handleUnload(c *echo.Context) error {
	if err := s.handle.Unload(c.Request().Context()); err != nil {
		return writeFacadeError(c, err)
	}
	return c.JSON(http.StatusOK, s.modelStatus())
}

func (s *Server) handleModels(c *echo.Context) error {
	models, err := s.catalog.List()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	current := s.handle.Path()
	data := make([]ModelEntry, 0, len(models))
	for _, m := range models {
		data = append(data, ModelEntry{
			ID:     m.Name,
			Object: "model",
			Path:   m.Path,
			Size:   m.Size,
			Loaded: current != "" && strings.EqualFold(m.Path, current),
		})
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}
