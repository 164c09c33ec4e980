// Package terminal implements an interactive WebSocket channel for
// terminal-style clients: each connection is a single chat session that
// receives streaming chunk, tool-call and tool-result events in addition to
// the final reply.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/san-tian/miniclaw/internal/bus"
	"github.com/san-tian/miniclaw/internal/channels"
	"github.com/san-tian/miniclaw/internal/config"
)

// inboundFrame is the JSON envelope a terminal client sends upstream.
type inboundFrame struct {
	Type    string `json:"type"` // "message"
	Content string `json:"content"`
}

// outboundFrame is the JSON envelope sent to terminal clients.
type outboundFrame struct {
	Type    string `json:"type"` // "chunk", "tool_call", "tool_result", "message", "typing"
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type conn struct {
	ws     *websocket.Conn
	chatID string
	writeM sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

// Channel serves an interactive terminal protocol over WebSocket, one
// connection per session, identified by chatID = connection ID.
type Channel struct {
	*channels.BaseChannel
	config   config.TerminalConfig
	server   *http.Server
	upgrader websocket.Upgrader
	limiter  *channels.WebhookRateLimiter

	mu    sync.RWMutex
	conns map[string]*conn
	next  int64
}

// New creates a new terminal channel from config.
func New(cfg config.TerminalConfig) (*Channel, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":8765"
	}
	base := channels.NewBaseChannel("terminal", nil)

	c := &Channel{
		BaseChannel: base,
		config:      cfg,
		conns:       make(map[string]*conn),
		limiter:     channels.NewWebhookRateLimiterRPM(cfg.RateLimitRPM),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleWS)
	c.server = &http.Server{Addr: cfg.Addr, Handler: mux}

	return c, nil
}

// Start begins listening for WebSocket connections.
func (c *Channel) Start(_ context.Context) error {
	ln := c.server
	go func() {
		if err := ln.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("terminal channel server error", "error", err)
		}
	}()
	c.SetRunning(true)
	slog.Info("terminal channel listening", "addr", c.config.Addr)
	return nil
}

// Stop shuts down the HTTP server and closes all connections.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)

	c.mu.Lock()
	for id, cn := range c.conns {
		cn.ws.Close()
		delete(c.conns, id)
	}
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.server.Shutdown(shutdownCtx)
}

func (c *Channel) handleWS(w http.ResponseWriter, r *http.Request) {
	if c.config.Token != "" && r.URL.Query().Get("token") != c.config.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !c.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("terminal: websocket upgrade failed", "error", err)
		return
	}

	c.mu.Lock()
	c.next++
	chatID := fmt.Sprintf("term-%d", c.next)
	cn := &conn{ws: ws, chatID: chatID}
	c.conns[chatID] = cn
	c.mu.Unlock()

	slog.Info("terminal client connected", "chat_id", chatID, "remote", r.RemoteAddr)
	c.readLoop(cn)
}

func (c *Channel) readLoop(cn *conn) {
	defer func() {
		c.mu.Lock()
		delete(c.conns, cn.chatID)
		c.mu.Unlock()
		cn.ws.Close()
		slog.Info("terminal client disconnected", "chat_id", cn.chatID)
	}()

	for {
		var frame inboundFrame
		if err := cn.ws.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "" && frame.Type != "message" {
			continue
		}
		if frame.Content == "" {
			continue
		}

		c.Deliver(bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: cn.chatID,
			ChatID:   cn.chatID,
			Content:  frame.Content,
			PeerKind: "direct",
			UserID:   cn.chatID,
		})
	}
}

func (c *Channel) getConn(chatID string) *conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conns[chatID]
}

// Send delivers the final reply text for a turn.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	cn := c.getConn(msg.ChatID)
	if cn == nil {
		return fmt.Errorf("terminal: no active connection for chat id %q", msg.ChatID)
	}
	return cn.writeJSON(outboundFrame{Type: "message", Content: msg.Content})
}

// SendTyping notifies the client that the agent is processing.
func (c *Channel) SendTyping(_ context.Context, chatID string) error {
	cn := c.getConn(chatID)
	if cn == nil {
		return fmt.Errorf("terminal: no active connection for chat id %q", chatID)
	}
	return cn.writeJSON(outboundFrame{Type: "typing"})
}

// SendChunk streams an incremental piece of the assistant's response.
func (c *Channel) SendChunk(_ context.Context, chatID string, text string) error {
	cn := c.getConn(chatID)
	if cn == nil {
		return nil // connection may have closed mid-stream; not fatal
	}
	return cn.writeJSON(outboundFrame{Type: "chunk", Content: text})
}

// SendToolCall notifies the client a tool is about to run.
func (c *Channel) SendToolCall(_ context.Context, chatID string, name string) error {
	cn := c.getConn(chatID)
	if cn == nil {
		return nil
	}
	return cn.writeJSON(outboundFrame{Type: "tool_call", Tool: name})
}

// SendToolResult notifies the client a tool finished running.
func (c *Channel) SendToolResult(_ context.Context, chatID string, name string, summary string) error {
	cn := c.getConn(chatID)
	if cn == nil {
		return nil
	}
	return cn.writeJSON(outboundFrame{Type: "tool_result", Tool: name, Summary: summary})
}
