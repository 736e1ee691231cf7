package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

type wsClientMessage struct {
	Type        string  `json:"type"`
	Amount      float64 `json:"amount,omitempty"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
	BetID       string  `json:"bet_id,omitempty"`
}

type wsResult struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// gameWebSocketHandler serves the live event feed and accepts bet/cashout
// commands over the same connection.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	pid := conn.Query("player_id", "anonymous")

	client := s.hub.RegisterClient(conn, pid)
	defer s.hub.UnregisterClient(client)

	if snap, err := s.engine.Snapshot(); err == nil {
		client.SendInitialState(snap, s.log)
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "place_bet":
			bet, err := s.engine.PlaceBet(context.Background(), pid, msg.Amount, msg.AutoCashout)
			s.writeResult(conn, "bet_result", bet, err)

		case "cashout":
			bet, err := s.engine.Cashout(context.Background(), pid, msg.BetID)
			s.writeResult(conn, "cashout_result", bet, err)

		case "ping":
			s.writeResult(conn, "pong", nil, nil)
		}
	}
}

func (s *FiberServer) writeResult(conn *websocket.Conn, msgType string, data any, err error) {
	result := wsResult{Type: msgType, OK: err == nil, Data: data}
	if err != nil {
		result.Error = err.Error()
		result.Data = nil
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		s.log.Error("marshal ws result", zap.Error(merr))
		return
	}
	if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
		s.log.Warn("ws write failed", zap.Error(werr))
	}
}
