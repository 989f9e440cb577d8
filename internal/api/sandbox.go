package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/devbox/pkg/types"
)

func (s *Server) createSandbox(c echo.Context) error {
	var cfg types.SandboxConfig
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&cfg); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}

	sb, err := s.manager.Create(c.Request().Context(), cfg)
	if err != nil {
		if sb != nil {
			return c.JSON(http.StatusInternalServerError, types.ErrorResponse{
				Error:   err.Error(),
				Sandbox: sb,
			})
		}
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, sb)
}

func (s *Server) listSandboxes(c echo.Context) error {
	return c.JSON(http.StatusOK, types.SandboxListResponse{Sandboxes: s.manager.List()})
}

func (s *Server) getSandbox(c echo.Context) error {
	sb, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sb)
}

func (s *Server) deleteSandbox(c echo.Context) error {
	if err := s.manager.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) previewURL(c echo.Context) error {
	id := c.Param("id")
	port, err := s.manager.PreviewPort(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, types.PreviewURLResponse{
		URL:       s.manager.PreviewURL(port),
		SandboxID: id,
		Port:      port,
	})
}
