package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/aarutech20/indicVoice/internal/apperr"
	"github.com/aarutech20/indicVoice/internal/ingest"
	"github.com/aarutech20/indicVoice/internal/protocol"
)

// handleWebSocket upgrades the request and runs the connection until the
// client goes away.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	c := &wsConn{
		server:    h,
		conn:      conn,
		sessionID: sessionID,
		logger:    h.logger.With(slog.String("session_id", sessionID)),
		inflight:  semaphore.NewWeighted(int64(h.config.MaxInflight)),
		lastReply: closedChan(),
	}
	if !h.track(c) {
		c.closeGoingAway()
		conn.Close()
		return
	}
	defer h.untrack(c)

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	c.run(r.Context())
}

// wsConn is one WebSocket connection bound to a session id. Reads happen on
// the handler goroutine. Audio chunks are transcribed concurrently but their
// replies are written in the order the chunks arrived.
type wsConn struct {
	server    *HTTPServer
	conn      *websocket.Conn
	sessionID string
	logger    *slog.Logger

	// writeMu serializes frame writes. It is never held across an ingest.
	writeMu sync.Mutex

	inflight *semaphore.Weighted
	chunks   sync.WaitGroup

	// lastReply is closed once the most recently received chunk has been
	// answered. Only the read loop touches it.
	lastReply chan struct{}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (c *wsConn) run(parent context.Context) {
	defer c.conn.Close()

	// Ingests run detached from the connection so a disconnect does not
	// drop chunks that are already being transcribed.
	ctx := context.WithoutCancel(parent)
	keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()

	c.logger.Info("WebSocket connection established")
	c.send(protocol.TypeConnectionEstablished, protocol.ConnectionEstablished(c.sessionID))

	pongWait := 2 * c.server.config.PingInterval
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepAlive(keepAliveCtx)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket read failed", slog.String("error", err.Error()))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			c.server.metrics.RecordWSMessage("in", "binary")
			c.send(protocol.TypeError, protocol.Error("Only text messages are supported"))
			continue
		}

		msg, err := protocol.ParseInbound(data)
		if err != nil {
			c.server.metrics.RecordWSMessage("in", "invalid")
			c.send(protocol.TypeError, protocol.Error(clientMessage(err)))
			continue
		}
		c.server.metrics.RecordWSMessage("in", msg.MessageType())

		c.dispatch(ctx, msg)
	}

	c.chunks.Wait()
	c.logger.Info("WebSocket connection closed")
}

func (c *wsConn) dispatch(ctx context.Context, msg protocol.Inbound) {
	switch m := msg.(type) {
	case *protocol.StartSession:
		if _, _, err := c.server.pipeline.StartSession(ctx, c.sessionID, m.LanguageCode); err != nil {
			c.sendError(err)
			return
		}
		c.send(protocol.TypeSessionStarted, protocol.SessionStarted(c.sessionID, m.LanguageCode))

	case *protocol.AudioChunk:
		// Bounds the chunks in flight per connection; a full window stalls
		// the read loop.
		if err := c.inflight.Acquire(ctx, 1); err != nil {
			c.sendError(apperr.Cancelled(err))
			return
		}
		prev, done := c.lastReply, make(chan struct{})
		c.lastReply = done

		c.chunks.Add(1)
		go func() {
			defer c.chunks.Done()
			defer c.inflight.Release(1)
			defer close(done)

			reply := c.ingest(ctx, m)
			<-prev
			reply()
		}()

	case *protocol.EndSession:
		// Results of chunks already received go out before session_ended.
		c.chunks.Wait()
		if err := c.server.pipeline.EndSession(ctx, c.sessionID); err != nil {
			c.sendError(err)
			return
		}
		c.send(protocol.TypeSessionEnded, protocol.SessionEnded(c.sessionID))
	}
}

// ingest processes one chunk and returns the function that writes its
// replies.
func (c *wsConn) ingest(ctx context.Context, m *protocol.AudioChunk) func() {
	res, err := c.server.pipeline.Ingest(ctx, ingest.Request{
		SessionID:    c.sessionID,
		LanguageCode: m.LanguageCode,
		ChunkNumber:  m.ChunkNumber,
		Audio:        m.Audio,
		SampleRate:   m.SampleRate,
	})
	if err == nil {
		return func() { c.sendResult(res) }
	}

	c.logger.Warn("Failed to process audio chunk",
		slog.Int("chunk_number", m.ChunkNumber),
		slog.String("error", err.Error()),
	)
	msg := clientMessage(err)
	if !apperr.IsKind(err, apperr.KindValidation) {
		msg = fmt.Sprintf("Failed to process audio chunk %d: %s", m.ChunkNumber, msg)
	}
	return func() {
		// A failed transcription is still recorded; the client sees the
		// stored marker before the error.
		if res != nil {
			c.sendResult(res)
		}
		c.send(protocol.TypeError, protocol.Error(msg))
	}
}

func (c *wsConn) sendResult(res *ingest.Result) {
	c.send(protocol.TypeTranscriptionResult, protocol.TranscriptionResult(
		c.sessionID, res.ChunkNumber, res.Text, res.LanguageCode, res.Confidence,
	))
}

func (c *wsConn) sendError(err error) {
	c.send(protocol.TypeError, protocol.Error(clientMessage(err)))
}

// send writes one JSON frame. Write failures mean the peer is gone; the read
// loop notices and tears the connection down.
func (c *wsConn) send(msgType string, v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WSWriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("WebSocket write failed",
				slog.String("type", msgType),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	c.server.metrics.RecordWSMessage("out", msgType)
}

func (c *wsConn) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.server.config.WSWriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				c.logger.Debug("Failed to send ping", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// closeGoingAway tells the client the server is shutting down. The read loop
// then fails and the connection winds down normally.
func (c *wsConn) closeGoingAway() {
	deadline := time.Now().Add(c.server.config.WSWriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.conn.Close()
		return
	}
	// Unblock the read loop if the client never answers the close frame.
	c.conn.SetReadDeadline(time.Now().Add(time.Second))
}
