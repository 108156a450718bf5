package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Device to agent.
	TypeDeviceHello      MessageType = "device_hello"
	TypeClientControl    MessageType = "client_control"
	TypeRecognitionEvent MessageType = "recognition_event"
	TypePlaybackEvent    MessageType = "playback_event"
	TypeAvatarAck        MessageType = "avatar_ack"

	// Agent to device and display observers.
	TypeRecognitionStart MessageType = "recognition_start"
	TypeRecognitionAbort MessageType = "recognition_abort"
	TypePlaybackStart    MessageType = "playback_start"
	TypeAvatarCommand    MessageType = "avatar_command"
	TypeStatusUpdate     MessageType = "status_update"
	TypeUserMessage      MessageType = "user_message"
	TypeBotMessage       MessageType = "bot_message"
	TypeErrorBanner      MessageType = "error_banner"
)

const ActionActivate = "activate"

// Recognition event names carried in RecognitionEvent.Event.
const (
	RecognitionStarted = "start"
	RecognitionResult  = "result"
	RecognitionEnded   = "end"
	RecognitionError   = "error"
)

const (
	PlaybackEnded  = "ended"
	PlaybackFailed = "failed"
)

const (
	AvatarFadeOut = "fade_out"
	AvatarFadeIn  = "fade_in"
	AvatarSwap    = "swap"
	AvatarPlay    = "play"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type DeviceHello struct {
	Type            MessageType `json:"type"`
	SpeechSupported bool        `json:"speech_supported"`
	UserAgent       string      `json:"user_agent,omitempty"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type RecognitionResultItem struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type RecognitionEvent struct {
	Type        MessageType             `json:"type"`
	RunID       string                  `json:"run_id"`
	Event       string                  `json:"event"`
	ResultIndex int                     `json:"result_index,omitempty"`
	Results     []RecognitionResultItem `json:"results,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

type PlaybackEvent struct {
	Type       MessageType `json:"type"`
	PlaybackID string      `json:"playback_id"`
	Event      string      `json:"event"`
	Detail     string      `json:"detail,omitempty"`
}

type AvatarAck struct {
	Type      MessageType `json:"type"`
	CommandID string      `json:"command_id"`
	OK        bool        `json:"ok"`
	Detail    string      `json:"detail,omitempty"`
}

type RecognitionStart struct {
	Type            MessageType `json:"type"`
	RunID           string      `json:"run_id"`
	Language        string      `json:"language"`
	InterimResults  bool        `json:"interim_results"`
	MaxAlternatives int         `json:"max_alternatives"`
}

type RecognitionAbort struct {
	Type  MessageType `json:"type"`
	RunID string      `json:"run_id"`
}

type PlaybackStart struct {
	Type        MessageType `json:"type"`
	PlaybackID  string      `json:"playback_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type AvatarCommand struct {
	Type      MessageType `json:"type"`
	CommandID string      `json:"command_id"`
	Action    string      `json:"action"`
	Asset     string      `json:"asset,omitempty"`
	Loop      bool        `json:"loop,omitempty"`
}

type StatusUpdate struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
	Text   string      `json:"text,omitempty"`
}

type ChatMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ErrorBanner struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ParseClientMessage decodes and validates one device message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeDeviceHello:
		var msg DeviceHello
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeRecognitionEvent:
		var msg RecognitionEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RunID == "" || !validRecognitionEvent(msg.Event) || msg.ResultIndex < 0 {
			return nil, errors.New("invalid recognition_event")
		}
		return msg, nil
	case TypePlaybackEvent:
		var msg PlaybackEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PlaybackID == "" || (msg.Event != PlaybackEnded && msg.Event != PlaybackFailed) {
			return nil, errors.New("invalid playback_event")
		}
		return msg, nil
	case TypeAvatarAck:
		var msg AvatarAck
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CommandID == "" {
			return nil, errors.New("invalid avatar_ack")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validRecognitionEvent(event string) bool {
	switch event {
	case RecognitionStarted, RecognitionResult, RecognitionEnded, RecognitionError:
		return true
	}
	return false
}
