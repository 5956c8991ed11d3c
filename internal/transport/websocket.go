package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/warden/pkg/models"
)

// writeWait is time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// pingTimeout bounds a liveness probe.
const pingTimeout = 5 * time.Second

// WebSocket delivers tasks to remote workers over one websocket connection
// per attempt. The agent endpoint is the ws:// or wss:// URL of the worker.
type WebSocket struct {
	dialer *websocket.Dialer
	header http.Header
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithDialer overrides the default dialer.
func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(w *WebSocket) {
		w.dialer = d
	}
}

// WithHeader sets headers sent on every handshake. Credentials for workers
// are injected here by the caller.
func WithHeader(h http.Header) WebSocketOption {
	return func(w *WebSocket) {
		w.header = h.Clone()
	}
}

// NewWebSocket creates a websocket transport.
func NewWebSocket(opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebSocket) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, _, err := w.dialer.DialContext(ctx, endpoint, w.header)
	if err != nil {
		return nil, NewTransient("dial", err)
	}
	return conn, nil
}

func writeEnvelope(conn *websocket.Conn, msgType string, payload interface{}) error {
	data, err := MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, data)
	conn.SetWriteDeadline(time.Time{})
	return err
}

// Send delivers the task and blocks until the matching result, an error
// message, the request deadline, or ctx cancellation.
func (w *WebSocket) Send(ctx context.Context, req Request) (*TaskResult, error) {
	conn, err := w.dial(ctx, req.Agent.Endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	msg := TaskMessage{
		CorrelationID:  req.CorrelationID,
		Task:           *req.Task,
		DeadlineUnixMs: req.Deadline.UnixMilli(),
	}
	if err := writeEnvelope(conn, TypeTask, msg); err != nil {
		return nil, NewTransient("write", err)
	}

	if !req.Deadline.IsZero() {
		conn.SetReadDeadline(req.Deadline)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewTransient("read", ctx.Err())
			}
			return nil, NewTransient("read", err)
		}

		var env EnvelopeRaw
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[transport] invalid message from %s: %v", req.Agent.ID, err)
			continue
		}

		switch env.Type {
		case TypeResult:
			var res ResultMessage
			if err := json.Unmarshal(env.Payload, &res); err != nil {
				return nil, NewPermanent("decode", err)
			}
			if res.CorrelationID != req.CorrelationID {
				continue
			}
			agentID := res.AgentID
			if agentID == "" {
				agentID = req.Agent.ID
			}
			return &TaskResult{
				TaskID:          req.Task.ID,
				CorrelationID:   res.CorrelationID,
				AgentID:         agentID,
				Output:          res.Output,
				QualityScore:    res.QualityScore,
				ConfidenceScore: res.ConfidenceScore,
			}, nil

		case TypeError:
			var em ErrorMessage
			if err := json.Unmarshal(env.Payload, &em); err != nil {
				return nil, NewPermanent("decode", err)
			}
			if em.CorrelationID != req.CorrelationID {
				continue
			}
			if em.Permanent {
				return nil, NewPermanent("worker", fmt.Errorf("%s", em.Message))
			}
			return nil, NewTransient("worker", fmt.Errorf("%s", em.Message))
		}
	}
}

// Cancel notifies the worker that the correlation id was abandoned.
func (w *WebSocket) Cancel(ctx context.Context, agent models.AgentDescriptor, correlationID string) error {
	conn, err := w.dial(ctx, agent.Endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := writeEnvelope(conn, TypeCancel, CancelMessage{CorrelationID: correlationID}); err != nil {
		return NewTransient("cancel", err)
	}
	return nil
}

// Ping sends an application-level ping and waits for the pong.
func (w *WebSocket) Ping(ctx context.Context, agent models.AgentDescriptor) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	conn, err := w.dial(ctx, agent.Endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeEnvelope(conn, TypePing, nil); err != nil {
		return NewTransient("ping", err)
	}
	deadline, _ := ctx.Deadline()
	conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return NewTransient("ping", err)
		}
		var env EnvelopeRaw
		if err := json.Unmarshal(data, &env); err == nil && env.Type == TypePong {
			return nil
		}
	}
}

var (
	_ Transport = (*WebSocket)(nil)
	_ Canceler  = (*WebSocket)(nil)
	_ Pinger    = (*WebSocket)(nil)
)
