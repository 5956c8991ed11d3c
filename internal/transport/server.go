package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server exposes a HandlerFunc as a websocket worker endpoint.
type Server struct {
	agentID  string
	handler  HandlerFunc
	upgrader websocket.Upgrader

	mu       sync.Mutex
	inflight map[string]*attempt
}

// attempt is one execution of a correlation id. Retries reuse the id, so
// entries are compared by identity before removal.
type attempt struct {
	cancel context.CancelFunc
}

// NewServer creates a worker endpoint that answers as agentID.
func NewServer(agentID string, handler HandlerFunc) *Server {
	return &Server{
		agentID: agentID,
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inflight: make(map[string]*attempt),
	}
}

// InFlight returns the number of tasks currently executing.
func (s *Server) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) send(msgType string, payload interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeEnvelope(c.conn, msgType, payload)
}

// ServeHTTP upgrades the request and serves messages until the peer
// disconnects. Tasks started on the connection are cancelled when it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[worker] upgrade failed: %v", err)
		return
	}
	sc := &serverConn{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env EnvelopeRaw
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[worker] invalid message: %v", err)
			continue
		}

		switch env.Type {
		case TypeTask:
			var msg TaskMessage
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				log.Printf("[worker] invalid task message: %v", err)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runTask(ctx, sc, msg)
			}()

		case TypeCancel:
			var msg CancelMessage
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				continue
			}
			s.cancel(msg.CorrelationID)

		case TypePing:
			if err := sc.send(TypePong, nil); err != nil {
				log.Printf("[worker] failed to send pong: %v", err)
			}
		}
	}
}

func (s *Server) track(corrID string, cancel context.CancelFunc) *attempt {
	a := &attempt{cancel: cancel}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[corrID] = a
	return a
}

// untrack removes a only if a newer attempt has not replaced it.
func (s *Server) untrack(corrID string, a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[corrID] == a {
		delete(s.inflight, corrID)
	}
}

func (s *Server) cancel(corrID string) {
	s.mu.Lock()
	a, ok := s.inflight[corrID]
	s.mu.Unlock()
	if ok {
		log.Printf("[worker] cancelling task %s", corrID)
		a.cancel()
	}
}

func (s *Server) runTask(parent context.Context, sc *serverConn, msg TaskMessage) {
	ctx := parent
	var cancel context.CancelFunc
	if msg.DeadlineUnixMs > 0 {
		ctx, cancel = context.WithDeadline(parent, time.UnixMilli(msg.DeadlineUnixMs))
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	a := s.track(msg.CorrelationID, cancel)
	defer s.untrack(msg.CorrelationID, a)

	task := msg.Task
	res, err := s.handler(ctx, &task)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		sc.send(TypeError, ErrorMessage{
			CorrelationID: msg.CorrelationID,
			Message:       err.Error(),
			Permanent:     !explicitlyTransient(err),
		})
		return
	}
	if res == nil {
		res = &TaskResult{}
	}
	if err := sc.send(TypeResult, ResultMessage{
		CorrelationID:   msg.CorrelationID,
		TaskID:          task.ID,
		AgentID:         s.agentID,
		Output:          res.Output,
		QualityScore:    res.QualityScore,
		ConfidenceScore: res.ConfidenceScore,
	}); err != nil {
		log.Printf("[worker] failed to send result for %s: %v", msg.CorrelationID, err)
	}
}
