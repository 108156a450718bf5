package bridge

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voiceloop/internal/protocol"
	"github.com/ent0n29/voiceloop/internal/voice"
)

func (h *Hub) Status(status voice.Status, detail string) {
	msg := protocol.StatusUpdate{Type: protocol.TypeStatusUpdate, Status: string(status), Text: detail}
	h.mu.Lock()
	h.status = msg
	h.mu.Unlock()
	h.publish(msg)
}

func (h *Hub) UserMessage(text string) {
	h.publish(protocol.ChatMessage{Type: protocol.TypeUserMessage, Text: text})
}

func (h *Hub) BotMessage(text string) {
	h.publish(protocol.ChatMessage{Type: protocol.TypeBotMessage, Text: text})
}

func (h *Hub) Error(message string) {
	log.Printf("bridge: display error: %s", message)
	h.publish(protocol.ErrorBanner{Type: protocol.TypeErrorBanner, Message: message})
}

// publish sends a display update to the device and every observer. Slow observers
// miss updates rather than stall the voice loop.
func (h *Hub) publish(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.device != nil {
		_ = h.sendLocked(msg)
	}
	for ch := range h.observers {
		select {
		case ch <- msg:
		default:
			h.metrics.ObserveWSMessage("outbound", "observer_drop_full")
		}
	}
}

// ServeDisplay streams display updates to a read-only observer until it disconnects.
// The observer first receives the current status.
func (h *Hub) ServeDisplay(ctx context.Context, conn *websocket.Conn) {
	feed := make(chan any, observerQueueSize)
	h.mu.Lock()
	feed <- h.status
	h.observers[feed] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.observers, feed)
		h.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case msg := <-feed:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				_ = conn.Close()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				h.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}
}
