package relay

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestParseTwilioEvent(t *testing.T) {
	ev, err := ParseTwilioEvent([]byte(`{"event":"start","start":{"streamSid":"MZabc"}}`))
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	if ev.Kind != TwilioStart || ev.StreamSID != "MZabc" {
		t.Fatalf("start event = %+v", ev)
	}

	ev, err = ParseTwilioEvent([]byte(`{"event":"media","media":{"timestamp":160,"payload":"AAAA"}}`))
	if err != nil {
		t.Fatalf("parse media: %v", err)
	}
	if ev.Kind != TwilioMedia || ev.Timestamp != 160 || ev.Payload != "AAAA" {
		t.Fatalf("media event = %+v", ev)
	}

	ev, err = ParseTwilioEvent([]byte(`{"event":"mark","mark":{"name":"responsePart"}}`))
	if err != nil || ev.Kind != TwilioMark {
		t.Fatalf("mark event = %+v, err %v", ev, err)
	}

	ev, err = ParseTwilioEvent([]byte(`{"event":"stop"}`))
	if err != nil || ev.Kind != TwilioStop {
		t.Fatalf("stop event = %+v, err %v", ev, err)
	}

	ev, err = ParseTwilioEvent([]byte(`{"event":"connected"}`))
	if err != nil || ev.Kind != TwilioUnknown {
		t.Fatalf("unknown event = %+v, err %v", ev, err)
	}
}

func TestParseTwilioEventMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"event":"start"}`,
		`{"event":"start","start":{}}`,
		`{"event":"media"}`,
	}
	for _, c := range cases {
		if _, err := ParseTwilioEvent([]byte(c)); err == nil {
			t.Fatalf("expected error for %s", c)
		}
	}
}

func TestTwilioCommandShapes(t *testing.T) {
	b, err := json.Marshal(MediaCommand("MZ1", "cGF5"))
	if err != nil {
		t.Fatalf("marshal media: %v", err)
	}
	if string(b) != `{"event":"media","streamSid":"MZ1","media":{"payload":"cGF5"}}` {
		t.Fatalf("media command wire = %s", b)
	}

	b, _ = json.Marshal(MarkCommand("MZ1", "responsePart"))
	if string(b) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"responsePart"}}` {
		t.Fatalf("mark command wire = %s", b)
	}

	b, _ = json.Marshal(ClearCommand("MZ1"))
	if string(b) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Fatalf("clear command wire = %s", b)
	}
}

func TestDecodeAudioPayload(t *testing.T) {
	raw := []byte{0x7f, 0x80, 0x00}
	got, err := DecodeAudioPayload(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("decoded payload = %v, want %v", got, raw)
	}
	if _, err := DecodeAudioPayload("!!not-base64!!"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseRealtimeEvent(t *testing.T) {
	ev, err := ParseRealtimeEvent([]byte(`{"type":"response.audio.delta","delta":"cGF5","item_id":"item_1"}`))
	if err != nil {
		t.Fatalf("parse delta: %v", err)
	}
	if ev.Kind != RealtimeAudioDelta || ev.Delta != "cGF5" || ev.ItemID != "item_1" {
		t.Fatalf("delta event = %+v", ev)
	}

	if _, err := ParseRealtimeEvent([]byte(`{"type":"response.audio.delta"}`)); err == nil {
		t.Fatalf("delta without payload should fail")
	}

	ev, _ = ParseRealtimeEvent([]byte(`{"type":"input_audio_buffer.speech_started"}`))
	if ev.Kind != RealtimeSpeechStarted {
		t.Fatalf("speech started event = %+v", ev)
	}

	ev, _ = ParseRealtimeEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello"}`))
	if ev.Kind != RealtimeTranscriptionCompleted || ev.Transcript != "hello" {
		t.Fatalf("transcription event = %+v", ev)
	}

	ev, _ = ParseRealtimeEvent([]byte(`{"type":"error","error":{"message":"boom"}}`))
	if ev.Kind != RealtimeError || ev.ErrMessage != "boom" {
		t.Fatalf("error event = %+v", ev)
	}

	ev, _ = ParseRealtimeEvent([]byte(`{"type":"session.created"}`))
	if ev.Kind != RealtimeUnknown {
		t.Fatalf("unknown event = %+v", ev)
	}
}

func TestResponseDoneExtraction(t *testing.T) {
	raw := `{"type":"response.done","response":{"output":[
		{"type":"function_call","name":"save_user_email","call_id":"call_1","arguments":"{\"email\":\"a@b.com\"}"},
		{"type":"function_call","name":"search_knowledge_base","call_id":"call_2","arguments":"{\"query\":\"reset\"}"},
		{"type":"message","role":"assistant","content":[{"type":"audio","transcript":"Sure, one moment."}]}
	]}}`
	ev, err := ParseRealtimeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("parse response.done: %v", err)
	}
	calls := ev.FunctionCalls()
	if len(calls) != 2 {
		t.Fatalf("function calls = %d, want 2", len(calls))
	}
	if calls[0].CallID != "call_1" || calls[1].CallID != "call_2" {
		t.Fatalf("call order: %s, %s", calls[0].CallID, calls[1].CallID)
	}
	text, ok := ev.AssistantTranscript()
	if !ok || text != "Sure, one moment." {
		t.Fatalf("assistant transcript = (%q, %v)", text, ok)
	}
}

func TestSessionUpdateCommand(t *testing.T) {
	cfg := SessionConfig{
		Voice:        "alloy",
		Instructions: "be helpful",
		Tools:        []json.RawMessage{json.RawMessage(`{"type":"function","name":"t1"}`)},
	}
	b, err := json.Marshal(SessionUpdateCommand(cfg))
	if err != nil {
		t.Fatalf("marshal session.update: %v", err)
	}
	var got struct {
		Type    string `json:"type"`
		Session struct {
			TurnDetection struct {
				Type string `json:"type"`
			} `json:"turn_detection"`
			InputAudioFormat  string   `json:"input_audio_format"`
			OutputAudioFormat string   `json:"output_audio_format"`
			Voice             string   `json:"voice"`
			Modalities        []string `json:"modalities"`
			Temperature       float64  `json:"temperature"`
			Transcription     struct {
				Model string `json:"model"`
			} `json:"input_audio_transcription"`
			Tools      []json.RawMessage `json:"tools"`
			ToolChoice string            `json:"tool_choice"`
		} `json:"session"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal session.update: %v", err)
	}
	if got.Type != "session.update" {
		t.Fatalf("type = %q", got.Type)
	}
	s := got.Session
	if s.TurnDetection.Type != "server_vad" ||
		s.InputAudioFormat != "g711_ulaw" || s.OutputAudioFormat != "g711_ulaw" ||
		s.Voice != "alloy" || s.Temperature != 0.8 ||
		s.Transcription.Model != "whisper-1" || s.ToolChoice != "auto" {
		t.Fatalf("session payload = %+v", s)
	}
	if len(s.Modalities) != 2 || len(s.Tools) != 1 {
		t.Fatalf("modalities %v, tools %d", s.Modalities, len(s.Tools))
	}
}

func TestTruncateCommandShape(t *testing.T) {
	b, _ := json.Marshal(TruncateCommand("item_1", 760))
	if string(b) != `{"type":"conversation.item.truncate","item_id":"item_1","content_index":0,"audio_end_ms":760}` {
		t.Fatalf("truncate wire = %s", b)
	}
}

func TestFunctionOutputCommandShape(t *testing.T) {
	b, _ := json.Marshal(FunctionOutputCommand("call_1", `{"result":"ok"}`))
	want := `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"call_1","output":"{\"result\":\"ok\"}"}}`
	if string(b) != want {
		t.Fatalf("function output wire = %s", b)
	}
}
