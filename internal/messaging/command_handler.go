// Package messaging provides command dispatch for user-issued bot commands.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/ReactPipe/internal/models"
	"github.com/BTreeMap/ReactPipe/internal/registry"
	"github.com/BTreeMap/ReactPipe/internal/throttle"
)

// CommandPrefix marks a message body as a bot command.
const CommandPrefix = "!"

// Reply texts for command outcomes.
const (
	replyInvalidDuration = "Invalid duration. Duration must be a value between 0 and 14 (days)."
	replySelfTarget      = "You cannot schedule reactions for yourself."
	replyInternalError   = "Something went wrong processing your command. Please try again."
	replyUsage           = "Commands: !react @user <emoji> [days]  |  !removereactions @user"
)

// CommandHandler parses user-issued commands and invokes registry operations.
// All replies pass through the serial queue so command responses respect the
// same outbound throttle as reactions.
type CommandHandler struct {
	registry   *registry.Registry
	msgService Service
	queue      *throttle.SerialQueue
}

// NewCommandHandler creates a CommandHandler over the given registry, messaging
// service, and outbound throttle queue.
func NewCommandHandler(reg *registry.Registry, msgService Service, queue *throttle.SerialQueue) *CommandHandler {
	return &CommandHandler{
		registry:   reg,
		msgService: msgService,
		queue:      queue,
	}
}

// HandleCommand processes msg if it is a command. It returns true when the
// message carried the command prefix (whether or not the command succeeded),
// false for ordinary chatter.
func (h *CommandHandler) HandleCommand(ctx context.Context, msg models.Message) (bool, error) {
	body := strings.TrimSpace(msg.Body)
	if !strings.HasPrefix(body, CommandPrefix) {
		return false, nil
	}

	fields := strings.Fields(body)
	command := strings.ToLower(strings.TrimPrefix(fields[0], CommandPrefix))
	slog.Debug("CommandHandler dispatching command", "command", command, "from", msg.From)

	switch command {
	case "react":
		return true, h.handleReact(ctx, msg, fields[1:])
	case "removereactions":
		return true, h.handleRemoveReactions(ctx, msg, fields[1:])
	default:
		slog.Debug("CommandHandler unknown command", "command", command, "from", msg.From)
		return true, h.reply(ctx, msg.From, replyUsage)
	}
}

// handleReact implements: !react @user <emoji> [days]
func (h *CommandHandler) handleReact(ctx context.Context, msg models.Message, args []string) error {
	if len(args) < 2 {
		return h.reply(ctx, msg.From, replyUsage)
	}

	owner, err := h.resolveMention(msg, args[0])
	if err != nil {
		slog.Debug("CommandHandler could not resolve mention", "error", err, "arg", args[0], "from", msg.From)
		return h.reply(ctx, msg.From, fmt.Sprintf("Error, unable to find user %s. Tag the user as the first argument. Example usage: !react @15551234567 😄 3", args[0]))
	}
	if owner == msg.From {
		return h.reply(ctx, msg.From, replySelfTarget)
	}

	emoji := args[1]
	days := models.DefaultReactionDays
	if len(args) >= 3 {
		days, err = strconv.Atoi(args[2])
		if err != nil {
			return h.reply(ctx, msg.From, replyInvalidDuration)
		}
	}

	if err := h.registry.Schedule(owner, emoji, days); err != nil {
		if errors.Is(err, models.ErrInvalidDuration) {
			return h.reply(ctx, msg.From, replyInvalidDuration)
		}
		slog.Error("CommandHandler schedule failed", "error", err, "owner", owner, "from", msg.From)
		if replyErr := h.reply(ctx, msg.From, replyInternalError); replyErr != nil {
			slog.Error("CommandHandler failed to send error reply", "error", replyErr, "from", msg.From)
		}
		return fmt.Errorf("failed to schedule reaction: %w", err)
	}

	return h.reply(ctx, msg.From, fmt.Sprintf("Added reaction %s for user @%s for %d days", emoji, owner, days))
}

// handleRemoveReactions implements: !removereactions @user
func (h *CommandHandler) handleRemoveReactions(ctx context.Context, msg models.Message, args []string) error {
	if len(args) < 1 {
		return h.reply(ctx, msg.From, replyUsage)
	}

	owner, err := h.resolveMention(msg, args[0])
	if err != nil {
		slog.Debug("CommandHandler could not resolve mention", "error", err, "arg", args[0], "from", msg.From)
		return h.reply(ctx, msg.From, fmt.Sprintf("Error, unable to find user %s. Tag the user as the first argument. Example usage: !removereactions @15551234567", args[0]))
	}
	if owner == msg.From {
		return h.reply(ctx, msg.From, replySelfTarget)
	}

	if err := h.registry.ClearAll(owner); err != nil {
		slog.Error("CommandHandler clear failed", "error", err, "owner", owner, "from", msg.From)
		if replyErr := h.reply(ctx, msg.From, replyInternalError); replyErr != nil {
			slog.Error("CommandHandler failed to send error reply", "error", replyErr, "from", msg.From)
		}
		return fmt.Errorf("failed to clear reactions: %w", err)
	}

	return h.reply(ctx, msg.From, fmt.Sprintf("Removed all reactions for user @%s", owner))
}

// resolveMention canonicalizes a mention argument, falling back to the
// platform-supplied mention list when the raw text cannot be parsed.
func (h *CommandHandler) resolveMention(msg models.Message, arg string) (string, error) {
	canonical, err := h.msgService.ValidateAndCanonicalizeRecipient(arg)
	if err == nil {
		return canonical, nil
	}
	if len(msg.Mentions) > 0 {
		return msg.Mentions[0], nil
	}
	return "", fmt.Errorf("no usable mention in %q: %w", arg, err)
}

// reply sends a command response through the outbound throttle.
func (h *CommandHandler) reply(ctx context.Context, to, text string) error {
	if err := h.queue.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait interrupted: %w", err)
	}
	if err := h.msgService.SendMessage(ctx, to, text); err != nil {
		return fmt.Errorf("failed to send command reply: %w", err)
	}
	return nil
}
