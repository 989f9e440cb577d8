package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/internal/metrics"
	"github.com/opensandbox/devbox/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// sessionWebSocket serves one long-lived client connection. Messages are
// handled in arrival order and each gets exactly one reply.
func (s *Server) sessionWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	connID := uuid.New().String()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	defer s.hub.Leave(connID)

	log.Info().Str("conn_id", connID).Str("remote", c.RealIP()).Msg("session: connected")

	ctx := c.Request().Context()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("conn_id", connID).Msg("session: read error")
			}
			break
		}

		var msg types.Message
		var resp types.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			data, _ := json.Marshal(types.ErrorEvent{Message: "invalid message: " + err.Error()})
			resp = types.Message{Type: types.MsgError, Data: data}
		} else {
			resp = s.hub.Handle(ctx, connID, msg)
		}

		if err := ws.WriteJSON(resp); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("session: write error")
			break
		}
	}

	log.Info().Str("conn_id", connID).Msg("session: disconnected")
	return nil
}
