// Package wsapi streams conversions over websockets. A client sends one JSON
// request; the server answers with a source message, a JSON header plus a
// binary frame per chunk, and a final done or error message.
package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-vc/internal/conversion"
	"github.com/loqalabs/loqa-vc/internal/protocol"
	"github.com/loqalabs/loqa-vc/internal/vc"
)

const (
	TypeSource = "source"
	TypeAudio  = "audio"
	TypeDone   = "done"
	TypeError  = "error"

	writeTimeout = 10 * time.Second
)

// Message is a text frame sent to the client.
type Message struct {
	Type      string                  `json:"type"`
	RequestID string                  `json:"request_id"`
	Path      string                  `json:"path,omitempty"`
	Chunk     *protocol.AudioChunk    `json:"chunk,omitempty"`
	Size      int                     `json:"size,omitempty"`
	Status    *protocol.ConvertStatus `json:"status,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// Handler upgrades requests and runs one conversion per connection.
type Handler struct {
	runner   *vc.Runner
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(runner *vc.Runner, log *slog.Logger) *Handler {
	return &Handler{
		runner: runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("component", "wsapi")),
	}
}

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) writeJSON(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

func (s *session) write(kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(kind, data)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	defer conn.Close()
	sess := &session{conn: conn}

	var wire protocol.ConvertRequest
	if err := conn.ReadJSON(&wire); err != nil {
		h.logger.Warn("failed to read convert request", slogError(err))
		_ = sess.writeJSON(Message{Type: TypeError, Error: "invalid request: " + err.Error()})
		return
	}
	if wire.RequestID == "" {
		wire.RequestID = uuid.NewString()
	}
	req := conversion.RequestFromMessage(h.runner.Defaults(), wire)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// The client sends nothing after the request; a read error means it left.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	res, err := h.runner.Run(ctx, "websocket", req, conversion.Handlers{
		Source: func(path string) {
			if err := sess.writeJSON(Message{Type: TypeSource, RequestID: req.ID, Path: path}); err != nil {
				h.logger.Debug("failed to send source message", slogError(err))
			}
		},
		Chunk: func(c conversion.Chunk) error {
			header := Message{
				Type:      TypeAudio,
				RequestID: req.ID,
				Size:      len(c.Data),
				Chunk: &protocol.AudioChunk{
					RequestID:  req.ID,
					Sequence:   c.Sequence,
					SampleRate: c.SampleRate,
					Format:     c.Format,
					Samples:    c.Samples,
					Final:      c.Final,
				},
			}
			if err := sess.writeJSON(header); err != nil {
				return err
			}
			return sess.write(websocket.BinaryMessage, c.Data)
		},
	})

	status := conversion.Status(res, err)
	status.RequestID = req.ID
	msg := Message{Type: TypeDone, RequestID: req.ID, Status: &status}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Info("client left during conversion", slog.String("request_id", req.ID))
			return
		}
		msg.Type = TypeError
		msg.Error = err.Error()
	}
	if err := sess.writeJSON(msg); err != nil {
		h.logger.Debug("failed to send final message", slogError(err))
		return
	}
	sess.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	sess.mu.Unlock()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
