package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"emittr/fourinarow/internal/lobby"
)

// Inbound message types.
const (
	msgJoinGame   = "join_game"
	msgMakeMove   = "make_move"
	msgRejoinGame = "rejoin_game"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

var errUnknownType = errors.New("unknown message type")

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinData struct {
	Username string `json:"username"`
}

type moveData struct {
	GameID string `json:"gameId"`
	Column any    `json:"column"`
}

type rejoinData struct {
	Username string `json:"username"`
	GameID   string `json:"gameId"`
}

// wsClient is the lobby.Conn for one websocket. Outbound frames go through
// a buffered channel; a full buffer drops the frame rather than blocking
// the session that produced it.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

func newClient(s *Server, conn *websocket.Conn) *wsClient {
	return &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: s.logger.With("remote", conn.RemoteAddr().String()),
	}
}

func (c *wsClient) Send(msg lobby.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encode frame", "type", msg.Type, "err", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping frame", "type", msg.Type)
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.registry.Disconnect(c)
		c.close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.server.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.server.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.server.pongWait))
		if err := c.dispatch(data); err != nil {
			c.Send(lobby.ErrorFrame(err))
		}
	}
}

func (c *wsClient) dispatch(data []byte) error {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.New("malformed message")
	}
	reg := c.server.registry
	switch msg.Type {
	case msgJoinGame:
		var d joinData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		return reg.Join(c, d.Username)
	case msgMakeMove:
		var d moveData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		return reg.Move(c, d.GameID, d.Column)
	case msgRejoinGame:
		var d rejoinData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		return reg.Rejoin(c, d.Username, d.GameID)
	}
	return errUnknownType
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("malformed message data")
	}
	return nil
}

// writePump drains the send buffer and pings the peer when the connection
// has been idle for a full interval.
func (c *wsClient) writePump() {
	interval := c.server.pingInterval
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	lastWrite := time.Now()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < interval {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			lastWrite = time.Now()
		}
	}
}
