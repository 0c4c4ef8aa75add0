package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ConversationMessage is one finalized utterance in the call transcript.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CallSession holds the per-call state shared by both pumps. Every mutator
// takes the session mutex and completes against in-memory state; nothing in
// here blocks on I/O. One CallSession exists per media-stream connection and
// is discarded after finalization.
//
// Invariant: responseStart is meaningful only while responseActive is true,
// and responseActive is true exactly while assistant audio is considered in
// flight for barge-in purposes. lastAssistantItem is set only while a
// response is in flight or until truncation clears it.
type CallSession struct {
	mu sync.Mutex

	streamSID            string
	latestMediaTimestamp int
	lastAssistantItem    string
	responseStart        int
	responseActive       bool
	markQueue            []string
	transcript           []ConversationMessage

	userEmail string
	reason    string
	callStart time.Time
}

func NewCallSession() *CallSession {
	return &CallSession{callStart: time.Now()}
}

// Begin resets the session for a newly started media stream. Twilio sends
// exactly one start frame per connection; a second start replaces the state
// wholesale, matching a reconnected stream.
func (s *CallSession) Begin(streamSID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamSID = streamSID
	s.latestMediaTimestamp = 0
	s.lastAssistantItem = ""
	s.responseActive = false
	s.responseStart = 0
	s.markQueue = nil
}

func (s *CallSession) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *CallSession) CallStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callStart
}

// RecordMediaTimestamp notes the telephony-side clock of the newest inbound
// media frame, in milliseconds since stream start.
func (s *CallSession) RecordMediaTimestamp(ts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestMediaTimestamp = ts
}

func (s *CallSession) LatestMediaTimestamp() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestMediaTimestamp
}

// BeginResponse marks assistant audio as in flight. The anchor is taken from
// the inbound telephony clock, not wall time, so that later truncation math
// subtracts two values from the same clock. Only the first delta of a
// response anchors; subsequent deltas just refresh the item id.
func (s *CallSession) BeginResponse(anchorTS int, itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.responseActive {
		s.responseActive = true
		s.responseStart = anchorTS
	}
	if itemID != "" {
		s.lastAssistantItem = itemID
	}
}

// ResponseAnchor reports the in-flight response anchor. ok is false when no
// response is currently in flight.
func (s *CallSession) ResponseAnchor() (anchor int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseStart, s.responseActive
}

func (s *CallSession) LastAssistantItem() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssistantItem
}

// ClearResponseState returns the session to the idle (no response in flight)
// state after truncation or normal completion of playback tracking.
func (s *CallSession) ClearResponseState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseActive = false
	s.responseStart = 0
	s.lastAssistantItem = ""
}

// PushMark appends a pending playback acknowledgment.
func (s *CallSession) PushMark(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markQueue = append(s.markQueue, name)
}

// PopMark removes the oldest pending mark. Acks are consumed strictly FIFO
// by position, never matched by name.
func (s *CallSession) PopMark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.markQueue) > 0 {
		s.markQueue = s.markQueue[1:]
	}
}

// ClearMarks drops every pending mark, used when buffered playback is
// flushed on barge-in.
func (s *CallSession) ClearMarks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markQueue = nil
}

func (s *CallSession) MarkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markQueue)
}

// AddUserMessage appends a caller utterance to the transcript. Blank
// transcriptions are dropped.
func (s *CallSession) AddUserMessage(text string) {
	s.addMessage("user", text)
}

// AddAssistantMessage appends a finalized assistant utterance.
func (s *CallSession) AddAssistantMessage(text string) {
	s.addMessage("assistant", text)
}

func (s *CallSession) addMessage(role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, ConversationMessage{
		Role:      role,
		Content:   text,
		Timestamp: time.Now(),
	})
}

// Transcript returns a copy of the transcript in arrival order.
func (s *CallSession) Transcript() []ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// SetUserEmail records the caller's email. Handlers may be invoked more than
// once; the latest value wins.
func (s *CallSession) SetUserEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userEmail = email
}

func (s *CallSession) UserEmail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userEmail
}

// SetReason records the caller's stated reason for calling.
func (s *CallSession) SetReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reason = reason
}

func (s *CallSession) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// FormatTranscript renders the transcript as the HTML ticket body: customer
// information, reason for calling, then the timestamped conversation.
func (s *CallSession) FormatTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("<h2>Customer Information</h2>\n<hr/>\n")
	email := s.userEmail
	if email == "" {
		email = "Not provided"
	}
	fmt.Fprintf(&b, "<p><strong>Email:</strong> %s</p>\n\n", email)
	b.WriteString("<h2>Support Request Details</h2>\n<hr/>\n")
	if s.reason != "" {
		fmt.Fprintf(&b, "<p><strong>Reason for Call:</strong> %s</p>\n", s.reason)
	}
	b.WriteString("\n<h2>Conversation History</h2>\n<hr/>\n")
	b.WriteString("<div class='transcript' style='margin-left: 20px;'>\n")
	for _, msg := range s.transcript {
		style := "color: #424242; margin-bottom: 15px;"
		prefix := "Customer"
		if msg.Role == "assistant" {
			style = "color: #2962FF; margin-bottom: 15px;"
			prefix = "AI Assistant"
		}
		fmt.Fprintf(&b, "<p style='%s'><strong>[%s] %s:</strong><br/>%s</p>\n",
			style, msg.Timestamp.Format("15:04:05"), prefix, msg.Content)
	}
	b.WriteString("</div>")
	return b.String()
}

// PlainTranscript renders the transcript as plain text, one line per
// utterance, for classification and failure logging.
func (s *CallSession) PlainTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]string, 0, len(s.transcript))
	for _, msg := range s.transcript {
		role := "Customer"
		if msg.Role == "assistant" {
			role = "AI Assistant"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			msg.Timestamp.Format("2006-01-02 15:04:05"), role, msg.Content))
	}
	return strings.Join(lines, "\n")
}
