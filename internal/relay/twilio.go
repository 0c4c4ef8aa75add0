package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// TwilioEventKind discriminates the telephony events we act on. Anything
// else parses as TwilioUnknown and is skipped by the inbound pump.
type TwilioEventKind int

const (
	TwilioUnknown TwilioEventKind = iota
	TwilioStart
	TwilioMedia
	TwilioMark
	TwilioStop
)

// TwilioEvent is the parsed form of one inbound Media Streams frame. The
// raw dict shape is decoded exactly once here; downstream code switches on
// Kind instead of probing for keys.
type TwilioEvent struct {
	Kind      TwilioEventKind
	StreamSID string // start only
	Timestamp int    // media only, ms on the telephony clock
	Payload   string // media only, base64 mulaw
}

type twilioFrame struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID string `json:"streamSid"`
	} `json:"start"`
	Media *struct {
		Timestamp int    `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media"`
}

// ParseTwilioEvent decodes one frame from the telephony websocket. A frame
// whose declared event is missing its expected sub-object is malformed.
func ParseTwilioEvent(raw []byte) (TwilioEvent, error) {
	var f twilioFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return TwilioEvent{}, fmt.Errorf("decode telephony frame: %w", err)
	}
	switch f.Event {
	case "start":
		if f.Start == nil || f.Start.StreamSID == "" {
			return TwilioEvent{}, fmt.Errorf("start frame missing streamSid")
		}
		return TwilioEvent{Kind: TwilioStart, StreamSID: f.Start.StreamSID}, nil
	case "media":
		if f.Media == nil {
			return TwilioEvent{}, fmt.Errorf("media frame missing media object")
		}
		return TwilioEvent{Kind: TwilioMedia, Timestamp: f.Media.Timestamp, Payload: f.Media.Payload}, nil
	case "mark":
		return TwilioEvent{Kind: TwilioMark}, nil
	case "stop":
		return TwilioEvent{Kind: TwilioStop}, nil
	default:
		return TwilioEvent{Kind: TwilioUnknown}, nil
	}
}

// DecodeAudioPayload decodes the base64 mulaw body of a media frame.
func DecodeAudioPayload(payload string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return b, nil
}

// Outbound telephony commands. These marshal to the exact Media Streams
// wire shapes.

type mediaCommand struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markCommand struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      markName `json:"mark"`
}

type markName struct {
	Name string `json:"name"`
}

type clearCommand struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// MediaCommand builds an outbound media event carrying base64 mulaw audio.
func MediaCommand(streamSID, payload string) interface{} {
	return mediaCommand{Event: "media", StreamSID: streamSID, Media: mediaPayload{Payload: payload}}
}

// MarkCommand requests a playback-position acknowledgment from Twilio.
func MarkCommand(streamSID, name string) interface{} {
	return markCommand{Event: "mark", StreamSID: streamSID, Mark: markName{Name: name}}
}

// ClearCommand flushes any buffered but unplayed audio on the Twilio side.
func ClearCommand(streamSID string) interface{} {
	return clearCommand{Event: "clear", StreamSID: streamSID}
}
