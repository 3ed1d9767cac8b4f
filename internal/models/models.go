// Package models defines the core data structures for ReactPipe.
//
// It includes the reaction registry snapshot and inbound message types, which
// are shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for reaction scheduling
const (
	// MaxReactionDays defines the maximum allowed reaction duration in days
	MaxReactionDays = 14
	// DefaultReactionDays defines the duration used when a command omits one
	DefaultReactionDays = 3
)

// Error variables for better error handling and testability
var (
	ErrInvalidDuration = errors.New("duration must be between 0 and 14 days")
	ErrSelfTarget      = errors.New("cannot schedule reactions for yourself")
	ErrEmptyRecipient  = errors.New("recipient cannot be empty")
	ErrEmptyEmoji      = errors.New("emoji cannot be empty")
	ErrMissingMention  = errors.New("command requires a mentioned user")
)

// RegistrySnapshot is the full serializable state of the reaction registry.
// Reactions maps owner identifier -> emoji -> absolute expiry time.
// UsedEmojis is the monotonically growing pool of every emoji ever scheduled,
// kept for surprise-reaction sampling and never shrunk by expiry.
type RegistrySnapshot struct {
	Reactions  map[string]map[string]time.Time `json:"reactions"`
	UsedEmojis []string                        `json:"used_emojis"`
}

// NewRegistrySnapshot returns an empty snapshot with initialized maps.
func NewRegistrySnapshot() RegistrySnapshot {
	return RegistrySnapshot{
		Reactions:  make(map[string]map[string]time.Time),
		UsedEmojis: nil,
	}
}

// MessageRef identifies a single platform message so a reaction can be
// attached to it later.
type MessageRef struct {
	Chat   string `json:"chat"`   // chat JID the message was posted in
	Sender string `json:"sender"` // full JID of the author
	ID     string `json:"id"`     // platform message ID
}

// Message represents an inbound message event from the platform.
type Message struct {
	Ref      MessageRef `json:"ref"`
	From     string     `json:"from"`     // canonicalized author identifier
	Body     string     `json:"body"`     // text content, empty for media
	Mentions []string   `json:"mentions"` // canonicalized mentioned users
	Time     int64      `json:"time"`
	FromSelf bool       `json:"from_self"` // authored by the bot account itself
}
