// Package alerthub fans operator alerts out to websocket subscribers of the
// admin API.
package alerthub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const (
	defaultBuffer       = 16
	defaultWriteTimeout = 5 * time.Second
)

// Alert is the JSON frame pushed to subscribers
type Alert struct {
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

type subscriber struct {
	alerts    chan Alert
	closeSlow func()
}

// Hub implements service.Notifier by broadcasting to every connected
// websocket. A subscriber that cannot keep up is disconnected rather than
// blocking the broadcaster.
type Hub struct {
	logger       *logrus.Logger
	buffer       int
	writeTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func New(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:       logger,
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		subscribers:  make(map[*subscriber]struct{}),
	}
}

// NotifyOperator never fails; alerts with no listeners are dropped.
func (h *Hub) NotifyOperator(_ context.Context, message string) error {
	alert := Alert{Message: message, SentAt: h.now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		select {
		case s.alerts <- alert:
		default:
			go s.closeSlow()
		}
	}
	return nil
}

// Subscribers reports the number of connected clients
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The admin server's read/write timeouts would otherwise cut the stream
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept alert subscriber")
		return
	}
	defer conn.CloseNow()

	err = h.subscribe(r.Context(), conn)
	switch {
	case err == nil,
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		return
	case r.Context().Err() != nil:
		return
	default:
		h.logger.WithError(err).Debug("Alert subscriber disconnected")
	}
}

func (h *Hub) subscribe(ctx context.Context, conn *websocket.Conn) error {
	var closed sync.Once
	s := &subscriber{
		alerts: make(chan Alert, h.buffer),
		closeSlow: func() {
			closed.Do(func() {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow to keep up with alerts")
			})
		},
	}
	h.add(s)
	defer h.remove(s)

	// Subscribers only listen; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case alert := <-s.alerts:
			if err := h.write(ctx, conn, alert); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, alert Alert) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, alert)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
}
