package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SocketConfig holds configuration for WebSocket connections.
type SocketConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultSocketConfig returns default WebSocket configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		SendBufferSize:  256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

var errSendBufferFull = errors.New("gateway: send buffer full")

// wsSocket adapts one websocket connection to the transmit.Socket
// interface: a read pump feeding the inbound channel and a write pump
// draining the send buffer, with ping keepalive and deadlines.
type wsSocket struct {
	conn   *websocket.Conn
	config SocketConfig

	send chan []byte
	in   chan []byte
	done chan struct{}
	once sync.Once
}

func newWSSocket(conn *websocket.Conn, config SocketConfig) *wsSocket {
	s := &wsSocket{
		conn:   conn,
		config: config,
		send:   make(chan []byte, config.SendBufferSize),
		in:     make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	return s
}

// Send enqueues one outbound message. A full send buffer means the
// client is not draining; the connection is dropped rather than letting
// it stall the caller.
func (s *wsSocket) Send(data []byte) error {
	select {
	case <-s.done:
		return errors.New("gateway: socket closed")
	default:
	}
	select {
	case s.send <- data:
		return nil
	default:
		log.Warn().
			Str("remote_addr", s.conn.RemoteAddr().String()).
			Msg("send buffer full, closing connection")
		_ = s.Close()
		return errSendBufferFull
	}
}

func (s *wsSocket) Messages() <-chan []byte { return s.in }
func (s *wsSocket) Done() <-chan struct{}  { return s.done }

// Close tears the connection down. Safe to call more than once.
func (s *wsSocket) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

// writePump drains the send buffer onto the wire and keeps the
// connection alive with periodic pings.
func (s *wsSocket) writePump() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("remote_addr", s.conn.RemoteAddr().String()).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("remote_addr", s.conn.RemoteAddr().String()).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads inbound messages into the message channel until the
// connection errors or closes.
func (s *wsSocket) readPump() {
	defer func() {
		_ = s.Close()
		close(s.in)
	}()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("remote_addr", s.conn.RemoteAddr().String()).
					Msg("unexpected WebSocket close")
			}
			return
		}
		select {
		case s.in <- message:
		case <-s.done:
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
}
