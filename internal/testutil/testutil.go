// Package testutil provides common test utilities and helpers for ReactPipe tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/BTreeMap/ReactPipe/internal/models"
)

// SentMessage records one SendMessage call made against a RecordingService.
type SentMessage struct {
	To   string
	Body string
}

// SentReaction records one React call made against a RecordingService.
type SentReaction struct {
	Ref   models.MessageRef
	Emoji string
}

// RecordingService implements messaging.Service in memory, recording every
// outbound call so tests can assert on ordering and content. Errors can be
// injected per call type.
type RecordingService struct {
	mu        sync.Mutex
	messages  chan models.Message
	sent      []SentMessage
	reactions []SentReaction

	// SendErr and ReactErr, when set, are returned by the corresponding calls.
	SendErr  error
	ReactErr error
}

// NewRecordingService creates a RecordingService with a buffered inbound channel.
func NewRecordingService() *RecordingService {
	return &RecordingService{
		messages: make(chan models.Message, 16),
	}
}

// ValidateAndCanonicalizeRecipient mirrors the WhatsApp service rules:
// strip '@', '+', and any JID suffix, then require digits.
func (s *RecordingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	canonical = strings.TrimPrefix(canonical, "@")
	canonical = strings.TrimPrefix(canonical, "+")
	if at := strings.IndexByte(canonical, '@'); at != -1 {
		canonical = canonical[:at]
	}
	if canonical == "" {
		return "", models.ErrEmptyRecipient
	}
	for _, r := range canonical {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("recipient %q is not a phone number", recipient)
		}
	}
	return canonical, nil
}

func (s *RecordingService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, SentMessage{To: to, Body: body})
	return nil
}

func (s *RecordingService) React(ctx context.Context, ref models.MessageRef, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReactErr != nil {
		return s.ReactErr
	}
	s.reactions = append(s.reactions, SentReaction{Ref: ref, Emoji: emoji})
	return nil
}

func (s *RecordingService) Start(ctx context.Context) error { return nil }

func (s *RecordingService) Stop() error {
	close(s.messages)
	return nil
}

func (s *RecordingService) Messages() <-chan models.Message {
	return s.messages
}

// Inject delivers an inbound message event as if it arrived from the platform.
func (s *RecordingService) Inject(msg models.Message) {
	s.messages <- msg
}

// Sent returns a copy of the recorded outbound messages.
func (s *RecordingService) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Reactions returns a copy of the recorded outbound reactions.
func (s *RecordingService) Reactions() []SentReaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentReaction(nil), s.reactions...)
}
