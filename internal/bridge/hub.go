// Package bridge drives a remote device (browser page or kiosk) over a websocket. The
// device owns the microphone, the speaker and the avatar video element; the Hub exposes
// them to the voice loop as capabilities.
package bridge

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voiceloop/internal/observability"
	"github.com/ent0n29/voiceloop/internal/protocol"
	"github.com/ent0n29/voiceloop/internal/voice"
)

var (
	ErrNoDevice           = errors.New("no device connected")
	ErrDeviceDisconnected = errors.New("device disconnected")
	errAckTimeout         = errors.New("avatar command not acknowledged")
)

const (
	outboundQueueSize = 256
	observerQueueSize = 64
	runEventQueueSize = 64
	writeTimeout      = 10 * time.Second
	readTimeout       = 120 * time.Second
	pingInterval      = 30 * time.Second
	readLimit         = 8 << 20
)

// Hub holds the single active device connection and any number of read-only display
// observers.
type Hub struct {
	metrics    *observability.Metrics
	ackTimeout time.Duration

	mu        sync.Mutex
	device    *deviceConn
	runs      map[string]*bridgeRun
	playbacks map[string]*pendingPlayback
	acks      map[string]chan error
	observers map[chan any]struct{}
	status    protocol.StatusUpdate
	activate  func(context.Context) error
}

func NewHub(metrics *observability.Metrics, ackTimeout time.Duration) *Hub {
	if ackTimeout <= 0 {
		ackTimeout = 2 * time.Second
	}
	return &Hub{
		metrics:    metrics,
		ackTimeout: ackTimeout,
		runs:       make(map[string]*bridgeRun),
		playbacks:  make(map[string]*pendingPlayback),
		acks:       make(map[string]chan error),
		observers:  make(map[chan any]struct{}),
		status:     protocol.StatusUpdate{Type: protocol.TypeStatusUpdate, Status: string(voice.StatusIdle)},
	}
}

// SetActivator registers the handler for the device's start control.
func (h *Hub) SetActivator(fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activate = fn
}

// Connected reports whether a device is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device != nil
}

type deviceConn struct {
	id              string
	conn            *websocket.Conn
	outbound        chan any
	done            chan struct{}
	once            sync.Once
	speechSupported bool
}

func (d *deviceConn) close() {
	d.once.Do(func() {
		close(d.done)
		_ = d.conn.Close()
	})
}

// ServeDevice runs the device session on an upgraded connection until it closes. A
// newer device connection supersedes this one.
func (h *Hub) ServeDevice(ctx context.Context, conn *websocket.Conn) {
	dc := &deviceConn{
		id:       uuid.NewString(),
		conn:     conn,
		outbound: make(chan any, outboundQueueSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if old := h.device; old != nil {
		log.Printf("bridge: device %s superseded by %s", old.id, dc.id)
		h.metrics.ObserveDeviceConnection("superseded")
		h.detachLocked(old)
	}
	h.device = dc
	h.mu.Unlock()
	h.metrics.ObserveDeviceConnection("connected")
	log.Printf("bridge: device %s connected", dc.id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(dc, dc.outbound)
	}()

	h.readLoop(ctx, dc)

	h.mu.Lock()
	if h.device == dc {
		h.detachLocked(dc)
	}
	h.mu.Unlock()
	dc.close()
	<-writerDone
	h.metrics.ObserveDeviceConnection("disconnected")
	log.Printf("bridge: device %s disconnected", dc.id)
}

func (h *Hub) readLoop(ctx context.Context, dc *deviceConn) {
	conn := dc.conn
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
			dc.close()
		case <-dc.done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			log.Printf("bridge: invalid device message: %v", err)
			h.metrics.ObserveWSMessage("inbound", "invalid")
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			h.metrics.ObserveWSMessage("inbound", string(t))
		}
		h.dispatch(ctx, dc, parsed)
	}
}

func (h *Hub) dispatch(ctx context.Context, dc *deviceConn, msg any) {
	switch m := msg.(type) {
	case protocol.DeviceHello:
		h.mu.Lock()
		dc.speechSupported = m.SpeechSupported
		h.mu.Unlock()
		log.Printf("bridge: device %s hello speech_supported=%t", dc.id, m.SpeechSupported)
	case protocol.ClientControl:
		if m.Action != protocol.ActionActivate {
			log.Printf("bridge: ignoring client control %q", m.Action)
			return
		}
		h.mu.Lock()
		activate := h.activate
		h.mu.Unlock()
		if activate == nil {
			return
		}
		go func() {
			if err := activate(ctx); err != nil {
				log.Printf("bridge: activate: %v", err)
			}
		}()
	case protocol.RecognitionEvent:
		h.onRecognitionEvent(m)
	case protocol.PlaybackEvent:
		h.onPlaybackEvent(m)
	case protocol.AvatarAck:
		h.onAvatarAck(m)
	}
}

// writeLoop keeps websocket writes single-threaded and pings idle connections.
func (h *Hub) writeLoop(dc *deviceConn, outbound <-chan any) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-dc.done:
			return
		case <-ticker.C:
			_ = dc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := dc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				dc.close()
				return
			}
		case msg := <-outbound:
			_ = dc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := dc.conn.WriteJSON(msg); err != nil {
				log.Printf("bridge: write to device %s: %v", dc.id, err)
				dc.close()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				h.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}
}

// sendLocked queues msg for the device. Callers hold h.mu.
func (h *Hub) sendLocked(msg any) error {
	dc := h.device
	if dc == nil {
		return ErrNoDevice
	}
	select {
	case dc.outbound <- msg:
		return nil
	default:
		h.metrics.ObserveWSMessage("outbound", "drop_full")
		return errors.New("device outbound queue full")
	}
}

// detachLocked fails everything in flight on dc. Callers hold h.mu.
func (h *Hub) detachLocked(dc *deviceConn) {
	if h.device == dc {
		h.device = nil
	}
	for id, run := range h.runs {
		run.deliverLocked(voice.RecognitionEvent{Type: voice.RecognitionEventError, Code: "network"})
		run.finishLocked()
		delete(h.runs, id)
	}
	for id, p := range h.playbacks {
		p.finishLocked(voice.PlaybackResult{Err: ErrDeviceDisconnected})
		delete(h.playbacks, id)
	}
	for id, ack := range h.acks {
		ack <- ErrDeviceDisconnected
		delete(h.acks, id)
	}
	dc.close()
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.DeviceHello:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.RecognitionEvent:
		return m.Type, true
	case protocol.PlaybackEvent:
		return m.Type, true
	case protocol.AvatarAck:
		return m.Type, true
	case protocol.RecognitionStart:
		return m.Type, true
	case protocol.RecognitionAbort:
		return m.Type, true
	case protocol.PlaybackStart:
		return m.Type, true
	case protocol.AvatarCommand:
		return m.Type, true
	case protocol.StatusUpdate:
		return m.Type, true
	case protocol.ChatMessage:
		return m.Type, true
	case protocol.ErrorBanner:
		return m.Type, true
	default:
		return "", false
	}
}
