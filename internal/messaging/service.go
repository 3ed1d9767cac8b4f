package messaging

import (
	"context"

	"github.com/BTreeMap/ReactPipe/internal/models"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and reactions, and provides a channel of
// inbound message events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// React attaches an emoji reaction to a previously received message.
	React(ctx context.Context, ref models.MessageRef, emoji string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Messages returns a channel of incoming message events.
	Messages() <-chan models.Message
}
