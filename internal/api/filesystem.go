package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/devbox/pkg/types"
)

func (s *Server) writeFile(c echo.Context) error {
	var req types.WriteFileRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Path == "" {
		return badRequest(c, "path is required")
	}

	res, err := s.files.WriteFile(c.Request().Context(), c.Param("id"), req.Path, req.Contents)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) readFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return badRequest(c, "path query parameter is required")
	}

	res, err := s.files.ReadFile(c.Request().Context(), c.Param("id"), path)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listDir(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		path = s.manager.WorkDir()
	}

	res, err := s.files.ListDir(c.Request().Context(), c.Param("id"), path)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) makeDir(c echo.Context) error {
	var req types.PathRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Path == "" {
		return badRequest(c, "path is required")
	}

	res, err := s.files.MakeDir(c.Request().Context(), c.Param("id"), req.Path)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) removeFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return badRequest(c, "path query parameter is required")
	}

	res, err := s.files.Remove(c.Request().Context(), c.Param("id"), path)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) uploadFile(c echo.Context) error {
	var req types.UploadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	res, err := s.files.Upload(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
