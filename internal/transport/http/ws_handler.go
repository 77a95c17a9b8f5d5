package http

import (
	"net/http"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

// ScoreFeed is the source of live score updates.
type ScoreFeed interface {
	Subscribe() (<-chan domain.ScoreUpdate, func())
}

type WSHandler struct {
	feed     ScoreFeed
	boards   Leaderboards
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(feed ScoreFeed, boards Leaderboards, log *logger.Logger) *WSHandler {
	return &WSHandler{
		feed:   feed,
		boards: boards,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type string `json:"type"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS streams the leaderboard: a snapshot on connect and on "refresh", then a
// "score-update" message for every committed answer.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.feed.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches the connection for writes. Closing the connection on
	// a write error unblocks the read loop.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "error", err)
				_ = conn.Close()
				return
			}
		}
	}()

	enqueue := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "score-update", Payload: update}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	ok := enqueue(h.snapshot(r))
	for ok {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "refresh":
			ok = enqueue(h.snapshot(r))
		default:
			ok = enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) snapshot(r *http.Request) outboundMessage[any] {
	lb, err := h.boards.Combined(r.Context())
	if err != nil {
		h.log.Warn("ws leaderboard snapshot failed", "error", err)
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "leaderboard unavailable"}}
	}
	return outboundMessage[any]{Type: "leaderboard", Payload: lb}
}
