package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/gorilla/websocket"
)

const (
	streamReadLimit  = 32 << 20
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
	streamWriteWait  = 10 * time.Second
	streamOutBuffer  = 16
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is a server-to-client message on /alpr/stream.
// Type is "result", "dropped" or "error".
type StreamMessage struct {
	Type         string             `json:"type"`
	FrameID      uint64             `json:"frame_id,omitempty"`
	Plates       []alpr.PlateReport `json:"plates,omitempty"`
	ProcessingNs int64              `json:"processing_ns,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// streamHandler upgrades the connection and runs the frame stream on it.
// Each binary message is one encoded frame.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("Stream connection established", "remote_addr", r.RemoteAddr)
	s.handleStream(r.Context(), conn)
	s.logger.Info("Stream connection closed", "remote_addr", r.RemoteAddr)
}

// handleStream reads frames until the client disconnects. Replies are
// written by a single goroutine in completion order.
func (s *Server) handleStream(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan StreamMessage, streamOutBuffer)

	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		s.writeStream(conn, out)
	}()

	var waiters sync.WaitGroup
	defer func() {
		cancel()
		waiters.Wait()
		close(out)
		writerDone.Wait()
	}()

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	go func() {
		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType != websocket.BinaryMessage {
			s.enqueue(ctx, out, StreamMessage{Type: "error", Error: "binary frames expected"})
			continue
		}
		uploadSizeBytes.Observe(float64(len(data)))

		frame, err := s.lib.Decode(data)
		if err != nil {
			s.enqueue(ctx, out, StreamMessage{Type: "error", Error: "invalid image format"})
			continue
		}

		id := s.nextID.Add(1)
		ch, err := s.router.Register(id)
		if err != nil {
			_ = frame.Release()
			s.enqueue(ctx, out, StreamMessage{Type: "error", FrameID: id, Error: errUnavailable.Error()})
			return
		}
		if !s.manager.Submit(pipeline.FrameTask{ID: id, Frame: frame}) {
			s.router.Cancel(id)
			s.enqueue(ctx, out, StreamMessage{Type: "dropped", FrameID: id})
			continue
		}

		waiters.Add(1)
		go func() {
			defer waiters.Done()
			s.awaitStreamResult(ctx, id, ch, out)
		}()
	}
}

// awaitStreamResult waits for the event of frame id and queues the reply.
func (s *Server) awaitStreamResult(ctx context.Context, id uint64, ch <-chan pipeline.Event, out chan<- StreamMessage) {
	select {
	case ev, ok := <-ch:
		if !ok {
			s.enqueue(ctx, out, StreamMessage{Type: "error", FrameID: id, Error: errUnavailable.Error()})
			return
		}
		rep, err := s.eventReport(id, ev)
		if err != nil {
			s.enqueue(ctx, out, StreamMessage{Type: "error", FrameID: id, Error: err.Error()})
			return
		}
		s.enqueue(ctx, out, resultMessage(rep))
	case <-ctx.Done():
		s.router.Cancel(id)
	}
}

func resultMessage(rep *alpr.FrameReport) StreamMessage {
	return StreamMessage{
		Type:         "result",
		FrameID:      rep.FrameID,
		Plates:       rep.Plates,
		ProcessingNs: rep.ProcessingNs,
	}
}

func (s *Server) enqueue(ctx context.Context, out chan<- StreamMessage, msg StreamMessage) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}

// writeStream sends queued messages until out is closed.
func (s *Server) writeStream(conn *websocket.Conn, out <-chan StreamMessage) {
	failed := false
	for msg := range out {
		if failed {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := s.sendStreamMessage(conn, msg); err != nil {
			failed = true
			_ = conn.Close()
		}
	}
}

// sendStreamMessage writes msg as a JSON text message.
func (s *Server) sendStreamMessage(conn WebSocketConnWriter, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal stream message", "error", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Warn("Failed to send stream message", "error", err)
		}
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}
