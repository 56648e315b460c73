package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"ludo/internal/game"
	"ludo/internal/session"
)

// WSMessage is the JSON envelope for WebSocket messages.
type WSMessage = session.Message

type joinPayload struct {
	PlayerID string `json:"playerId"`
}

type movePayload struct {
	TokenID  int `json:"tokenId"`
	DiceRoll int `json:"diceRoll"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// handleWebSocket streams the match mirror. The first client message must be a
// join; after that the client may send start, roll, move, pass and timer.
// State changes reach every subscriber as "mirror" messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["id"]
	m, err := s.engine.GetMatch(r.Context(), matchID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Warn().Err(err).Str("match_id", matchID).Msg("websocket accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	// First message must be a join
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "join" {
		sendWSError(ctx, conn, "first message must be a join", false)
		return
	}
	var join joinPayload
	if err := json.Unmarshal(msg.Payload, &join); err != nil || join.PlayerID == "" {
		sendWSError(ctx, conn, "invalid join payload", false)
		return
	}
	playerID := join.PlayerID

	// the authoritative read above also heals a missing or lagging mirror
	s.mirrors.Publish(m)
	sub, err := s.mirrors.Subscribe(matchID, playerID+"/"+uuid.NewString())
	if err != nil {
		sendWSError(ctx, conn, err.Error(), true)
		return
	}
	defer s.mirrors.Unsubscribe(matchID, sub)

	if sess, ok := s.mirrors.Get(matchID); ok {
		sendWS(ctx, conn, "mirror", sess.Snapshot())
	}

	// Writer goroutine: send mirror updates to the websocket
	go func() {
		for msg := range sub.Send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
		// the mirror dropped this listener; the client has to reconnect
		conn.Close(websocket.StatusGoingAway, "mirror closed")
	}()

	// Reader loop: handle incoming messages
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendWSError(ctx, conn, "invalid message", false)
			continue
		}
		s.handleMessage(ctx, conn, matchID, playerID, msg)
	}

	log.Debug().Str("match_id", matchID).Str("player_id", playerID).Msg("subscriber disconnected")
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, matchID, playerID string, msg WSMessage) {
	var err error
	switch msg.Type {
	case "start":
		_, err = s.engine.StartMatch(ctx, matchID, playerID)
	case "roll":
		var v int
		if v, err = s.engine.RollDice(ctx, matchID, playerID); err == nil {
			sendWS(ctx, conn, "rolled", rollResponse{DiceRoll: v})
		}
	case "move":
		var mp movePayload
		if json.Unmarshal(msg.Payload, &mp) != nil {
			sendWSError(ctx, conn, "invalid move payload", false)
			return
		}
		res, merr := s.engine.MoveToken(ctx, matchID, playerID, mp.TokenID, mp.DiceRoll)
		if err = merr; err == nil {
			sendWS(ctx, conn, "moved", res)
		}
	case "pass":
		err = s.engine.ConsumeRoll(ctx, matchID, playerID)
	case "timer":
		_, err = s.engine.CheckMatchTimer(ctx, matchID, playerID)
	default:
		sendWSError(ctx, conn, "unknown message type: "+msg.Type, false)
		return
	}
	if err != nil {
		sendWSError(ctx, conn, err.Error(), game.Retryable(err))
	}
}

func sendWS(ctx context.Context, conn *websocket.Conn, msgType string, payload any) {
	conn.Write(ctx, websocket.MessageText, session.Encode(msgType, payload))
}

func sendWSError(ctx context.Context, conn *websocket.Conn, message string, retryable bool) {
	sendWS(ctx, conn, "error", errorPayload{Message: message, Retryable: retryable})
}
