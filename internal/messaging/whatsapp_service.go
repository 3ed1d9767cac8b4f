package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReactPipe/internal/models"
	"github.com/BTreeMap/ReactPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the message channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // Access to underlying client for event handling
	messages chan models.Message
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		messages: make(chan models.Message, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient reduces a recipient to its bare phone
// number: leading '+' and any JID suffix are stripped and the remainder must
// be digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		slog.Debug("WhatsAppService starting event handler")
		// Start goroutine to handle WhatsApp events
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.messages)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message to a recipient.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	slog.Info("WhatsAppService message sent", "to", to)
	return nil
}

// React attaches an emoji reaction to the referenced message.
func (s *WhatsAppService) React(ctx context.Context, ref models.MessageRef, emoji string) error {
	slog.Debug("WhatsAppService React invoked", "chat", ref.Chat, "message_id", ref.ID, "emoji", emoji)
	err := s.client.React(ctx, ref.Chat, ref.Sender, ref.ID, emoji)
	if err != nil {
		slog.Error("WhatsAppService React error", "error", err, "chat", ref.Chat, "message_id", ref.ID)
		return err
	}
	slog.Info("WhatsAppService reaction sent", "chat", ref.Chat, "message_id", ref.ID, "emoji", emoji)
	return nil
}

// Messages returns a channel of incoming message events.
func (s *WhatsAppService) Messages() <-chan models.Message {
	return s.messages
}

// handleEvents processes WhatsApp events and feeds them into the message channel
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	slog.Debug("WhatsAppService handleEvents starting")

	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	// Add event handler for messages
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore other event types
			slog.Debug("WhatsAppService ignoring event type", "type", fmt.Sprintf("%T", v))
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a whatsmeow message event into a models.Message
// and forwards it. Media messages are forwarded with an empty body so scheduled
// reactions still apply to them.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	// Extract text content and mentioned users
	var messageText string
	var mentions []string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil {
		if evt.Message.ExtendedTextMessage.Text != nil {
			messageText = *evt.Message.ExtendedTextMessage.Text
		}
		if ci := evt.Message.ExtendedTextMessage.ContextInfo; ci != nil {
			for _, jid := range ci.GetMentionedJID() {
				if canonical, err := s.ValidateAndCanonicalizeRecipient(jid); err == nil {
					mentions = append(mentions, canonical)
				}
			}
		}
	} else {
		slog.Debug("WhatsAppService forwarding non-text message", "from", evt.Info.Sender.String())
	}

	message := models.Message{
		Ref: models.MessageRef{
			Chat:   evt.Info.Chat.String(),
			Sender: evt.Info.Sender.String(),
			ID:     string(evt.Info.ID),
		},
		From:     evt.Info.Sender.User,
		Body:     messageText,
		Mentions: mentions,
		Time:     evt.Info.Timestamp.Unix(),
		FromSelf: evt.Info.IsFromMe,
	}

	slog.Debug("WhatsAppService processing incoming message", "from", message.From, "body_length", len(message.Body), "mentions", len(message.Mentions))

	// Send to message channel (non-blocking)
	select {
	case s.messages <- message:
		slog.Info("WhatsAppService incoming message forwarded", "from", message.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService message channel blocked, dropping message", "from", message.From, "timeout", DefaultChannelTimeout)
	}
}
