package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/accent-engine/internal/pipeline"
	"github.com/snarg/accent-engine/internal/present"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 4096
)

// SocketMessage is every frame the server sends over the analysis socket.
type SocketMessage struct {
	Type    string         `json:"type"` // progress, result or error
	ID      string         `json:"id,omitempty"`
	Stage   pipeline.Stage `json:"stage,omitempty"`
	Message string         `json:"message,omitempty"`
	Result  *present.View  `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

func (h *AnalyzeHandler) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(h.origins))
	for _, o := range h.origins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || origin == "" || allowed[origin]
		},
	}
}

// Socket upgrades to a websocket. Each text frame {"url": "..."} starts an
// analysis; progress frames follow, then one result or error frame. Frames
// received while an analysis runs are queued and handled in order.
func (h *AnalyzeHandler) Socket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}
	defer conn.Close()

	log := hlog.FromRequest(r).With().Str("transport", "websocket").Logger()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan AnalyzeRequest, 4)
	go h.readPump(ctx, cancel, conn, requests, log)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(m SocketMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(m); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			cancel()
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case req := <-requests:
			if !h.socketAnalyze(ctx, req, write, ping.C, conn) {
				return
			}
		}
	}
}

func (h *AnalyzeHandler) socketAnalyze(ctx context.Context, req AnalyzeRequest, write func(SocketMessage) bool, ping <-chan time.Time, conn *websocket.Conn) bool {
	source := strings.TrimSpace(req.URL)
	if source == "" {
		return write(SocketMessage{Type: "error", Error: "url is required"})
	}

	id := uuid.NewString()
	progress := newProgressChan()
	done, err := h.pool.Submit(ctx, pipeline.Request{ID: id, Source: source, Progress: progress})
	if err != nil {
		_, msg := errorStatus(err)
		return write(SocketMessage{Type: "error", ID: id, Error: msg, Detail: err.Error()})
	}

	sendProgress := func(e pipeline.Event) {
		write(SocketMessage{Type: "progress", ID: id, Stage: e.Stage, Message: present.StageMessage(e)})
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ping:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return false
			}
		case e := <-progress:
			sendProgress(e)
		case out := <-done:
			progress.drain(sendProgress)
			if out.Err != nil {
				_, msg := errorStatus(out.Err)
				return write(SocketMessage{Type: "error", ID: id, Error: msg, Detail: out.Err.Error()})
			}
			view := present.NewView(id, out.Result)
			return write(SocketMessage{Type: "result", ID: id, Result: &view})
		}
	}
}

// readPump is the only reader on conn. It cancels ctx when the peer goes away.
func (h *AnalyzeHandler) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- AnalyzeRequest, log zerolog.Logger) {
	defer cancel()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msgType != websocket.TextMessage {
			log.Debug().Int("type", msgType).Msg("ignoring non-text websocket frame")
			continue
		}

		var req AnalyzeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// A bare URL is accepted as well as a JSON object.
			req.URL = string(data)
		}
		select {
		case out <- req:
		case <-ctx.Done():
			return
		}
	}
}
