package relay

import (
	"encoding/json"
	"fmt"
)

// RealtimeEventKind discriminates the AI-backend events the outbound pump
// acts on.
type RealtimeEventKind int

const (
	RealtimeUnknown RealtimeEventKind = iota
	RealtimeAudioDelta
	RealtimeSpeechStarted
	RealtimeResponseDone
	RealtimeTranscriptionCompleted
	RealtimeError
)

// OutputItem is one entry of a completed response's output array. Type is
// either "function_call" or "message".
type OutputItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Name      string          `json:"name"`
	CallID    string          `json:"call_id"`
	Arguments string          `json:"arguments"`
	Content   []OutputContent `json:"content"`
}

type OutputContent struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// RealtimeEvent is the parsed form of one AI-backend frame.
type RealtimeEvent struct {
	Kind       RealtimeEventKind
	Type       string // raw event type, for logging
	Delta      string // audio delta, base64
	ItemID     string
	Transcript string
	Output     []OutputItem
	ErrMessage string
}

type realtimeFrame struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
	Response   *struct {
		Output []OutputItem `json:"output"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseRealtimeEvent decodes one frame from the AI backend into a tagged
// event. Unrecognized types come back as RealtimeUnknown so the pump can
// log and move on.
func ParseRealtimeEvent(raw []byte) (RealtimeEvent, error) {
	var f realtimeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return RealtimeEvent{}, fmt.Errorf("decode realtime frame: %w", err)
	}
	ev := RealtimeEvent{Type: f.Type}
	switch f.Type {
	case "response.audio.delta":
		if f.Delta == "" {
			return RealtimeEvent{}, fmt.Errorf("audio delta missing payload")
		}
		ev.Kind = RealtimeAudioDelta
		ev.Delta = f.Delta
		ev.ItemID = f.ItemID
	case "input_audio_buffer.speech_started":
		ev.Kind = RealtimeSpeechStarted
	case "response.done":
		ev.Kind = RealtimeResponseDone
		if f.Response != nil {
			ev.Output = f.Response.Output
		}
	case "conversation.item.input_audio_transcription.completed":
		ev.Kind = RealtimeTranscriptionCompleted
		ev.Transcript = f.Transcript
	case "error":
		ev.Kind = RealtimeError
		if f.Error != nil {
			ev.ErrMessage = f.Error.Message
		}
	default:
		ev.Kind = RealtimeUnknown
	}
	return ev, nil
}

// AssistantTranscript extracts the finalized assistant text from a completed
// response's output, if any.
func (e RealtimeEvent) AssistantTranscript() (string, bool) {
	for _, item := range e.Output {
		if item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "audio" && c.Transcript != "" {
				return c.Transcript, true
			}
			if c.Type == "text" && c.Text != "" {
				return c.Text, true
			}
		}
	}
	return "", false
}

// FunctionCalls returns the function-call items of a completed response in
// output order.
func (e RealtimeEvent) FunctionCalls() []OutputItem {
	var calls []OutputItem
	for _, item := range e.Output {
		if item.Type == "function_call" {
			calls = append(calls, item)
		}
	}
	return calls
}

// Outbound AI-backend commands.

type audioAppendCommand struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type truncateCommand struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

type itemCreateCommand struct {
	Type string      `json:"type"`
	Item interface{} `json:"item"`
}

type functionOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type messageItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []messagePart `json:"content"`
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateCommand struct {
	Type string `json:"type"`
}

// AudioAppendCommand forwards caller audio verbatim to the input buffer.
func AudioAppendCommand(audio string) interface{} {
	return audioAppendCommand{Type: "input_audio_buffer.append", Audio: audio}
}

// TruncateCommand tells the backend to discard generated content for itemID
// beyond audioEndMS of playback. Content index is always 0: responses here
// carry a single audio content part.
func TruncateCommand(itemID string, audioEndMS int) interface{} {
	return truncateCommand{Type: "conversation.item.truncate", ItemID: itemID, ContentIndex: 0, AudioEndMS: audioEndMS}
}

// FunctionOutputCommand returns a tool result (JSON-encoded) for callID.
func FunctionOutputCommand(callID, output string) interface{} {
	return itemCreateCommand{
		Type: "conversation.item.create",
		Item: functionOutputItem{Type: "function_call_output", CallID: callID, Output: output},
	}
}

// ResponseCreateCommand asks the backend to generate the next response.
func ResponseCreateCommand() interface{} {
	return responseCreateCommand{Type: "response.create"}
}

// GreetingItemCommand seeds the conversation so the assistant speaks first.
func GreetingItemCommand(prompt string) interface{} {
	return itemCreateCommand{
		Type: "conversation.item.create",
		Item: messageItem{
			Type:    "message",
			Role:    "user",
			Content: []messagePart{{Type: "input_text", Text: prompt}},
		},
	}
}

// SessionConfig carries the tunables sent in the initial session.update.
type SessionConfig struct {
	Voice        string
	Instructions string
	Temperature  float64
	Tools        []json.RawMessage
}

type sessionUpdateCommand struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	TurnDetection           turnDetection     `json:"turn_detection"`
	InputAudioFormat        string            `json:"input_audio_format"`
	OutputAudioFormat       string            `json:"output_audio_format"`
	Voice                   string            `json:"voice"`
	Instructions            string            `json:"instructions"`
	Modalities              []string          `json:"modalities"`
	Temperature             float64           `json:"temperature"`
	InputAudioTranscription transcriptionOpts `json:"input_audio_transcription"`
	Tools                   []json.RawMessage `json:"tools"`
	ToolChoice              string            `json:"tool_choice"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type transcriptionOpts struct {
	Model string `json:"model"`
}

// SessionUpdateCommand configures the realtime session: mulaw both ways,
// server-side voice activity detection, caller transcription, and the tool
// schemas the dispatcher can answer.
func SessionUpdateCommand(cfg SessionConfig) interface{} {
	temp := cfg.Temperature
	if temp == 0 {
		temp = 0.8
	}
	return sessionUpdateCommand{
		Type: "session.update",
		Session: sessionPayload{
			TurnDetection:           turnDetection{Type: "server_vad"},
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			Voice:                   cfg.Voice,
			Instructions:            cfg.Instructions,
			Modalities:              []string{"text", "audio"},
			Temperature:             temp,
			InputAudioTranscription: transcriptionOpts{Model: "whisper-1"},
			Tools:                   cfg.Tools,
			ToolChoice:              "auto",
		},
	}
}
