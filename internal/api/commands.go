package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/devbox/pkg/types"
)

func (s *Server) spawn(c echo.Context) error {
	var req types.SpawnRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Command == "" {
		return badRequest(c, "command is required")
	}

	res, err := s.shell.Spawn(c.Request().Context(), c.Param("id"), req.Command, req.Args)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// terminal runs one line of input through the sandbox's shell, sharing the
// working directory with websocket sessions bound to the same sandbox.
func (s *Server) terminal(c echo.Context) error {
	var req types.TerminalRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	id := c.Param("id")
	res, err := s.shell.Run(c.Request().Context(), id, req.Input)
	if err != nil {
		return fail(c, err)
	}
	out := res.Output
	if out == "" {
		out = res.Error
	}
	return c.JSON(http.StatusOK, types.TerminalResponse{Output: out, Cwd: s.shell.Cwd(id)})
}

func (s *Server) history(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.manager.Get(id); err != nil {
		return fail(c, err)
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		limit = n
	}

	h := s.manager.History()
	if h == nil {
		return c.JSON(http.StatusOK, []types.HistoryEntry{})
	}
	entries, err := h.Recent(id, limit)
	if err != nil {
		return fail(c, err)
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
