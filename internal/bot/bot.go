// Package bot wires the ReactPipe modules together and runs the main event loop.
//
// Inbound messages flow through the loop in a fixed order: scheduled reactions
// for the author are applied first, then the author may receive a surprise
// reaction for future messages, then any command in the message is dispatched.
// Every outbound platform call first acquires a turn from the serial throttle
// queue.
package bot

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/ReactPipe/internal/messaging"
	"github.com/BTreeMap/ReactPipe/internal/models"
	"github.com/BTreeMap/ReactPipe/internal/registry"
	"github.com/BTreeMap/ReactPipe/internal/scheduler"
	"github.com/BTreeMap/ReactPipe/internal/store"
	"github.com/BTreeMap/ReactPipe/internal/throttle"
	"github.com/BTreeMap/ReactPipe/internal/whatsapp"
	"github.com/jonboulle/clockwork"
)

// DefaultSweepCron runs the registry maintenance sweep every five minutes so
// expired entries reach disk even when no messages arrive.
const DefaultSweepCron = "*/5 * * * *"

// Opts holds configuration options for the bot.
type Opts struct {
	ThrottleInterval time.Duration // minimum spacing between outbound calls
	SweepCron        string        // cron expression for the periodic registry sweep
}

// Option defines a configuration option for the bot.
type Option func(*Opts)

// WithThrottleInterval sets the minimum spacing between outbound platform calls.
func WithThrottleInterval(interval time.Duration) Option {
	return func(o *Opts) {
		o.ThrottleInterval = interval
	}
}

// WithSweepCron sets the cron expression for the periodic registry sweep.
func WithSweepCron(expr string) Option {
	return func(o *Opts) {
		o.SweepCron = expr
	}
}

// Bot owns the event loop over inbound messages.
type Bot struct {
	registry   *registry.Registry
	augmenter  *registry.Augmenter
	msgService messaging.Service
	commands   *messaging.CommandHandler
	queue      *throttle.SerialQueue
}

// New assembles a Bot from its collaborators.
func New(reg *registry.Registry, aug *registry.Augmenter, msgService messaging.Service, commands *messaging.CommandHandler, queue *throttle.SerialQueue) *Bot {
	return &Bot{
		registry:   reg,
		augmenter:  aug,
		msgService: msgService,
		commands:   commands,
		queue:      queue,
	}
}

// Run builds all modules from the given options and processes messages until
// the process receives SIGINT/SIGTERM.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, botOpts []Option) error {
	var cfg Opts
	for _, opt := range botOpts {
		opt(&cfg)
	}
	if cfg.SweepCron == "" {
		cfg.SweepCron = DefaultSweepCron
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	clock := clockwork.NewRealClock()
	reg, err := registry.New(st, clock)
	if err != nil {
		return err
	}
	queue := throttle.NewSerialQueue(clock, cfg.ThrottleInterval)

	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return err
	}
	msgService := messaging.NewWhatsAppService(waClient)
	commands := messaging.NewCommandHandler(reg, msgService, queue)
	b := New(reg, registry.NewAugmenter(reg), msgService, commands, queue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Bot failed to stop messaging service", "error", err)
		}
	}()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(cfg.SweepCron, func() {
		if err := reg.Sweep(); err != nil {
			slog.Error("Bot periodic sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}

	slog.Info("ReactPipe bot running", "throttle_interval", cfg.ThrottleInterval, "sweep_cron", cfg.SweepCron)
	return b.Loop(ctx)
}

// buildStore selects a registry store backend from the configured options.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Warn("No registry database DSN configured, using in-memory store (state will not survive restarts)")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		return store.NewPostgresStore(storeOpts...)
	default:
		return store.NewSQLiteStore(storeOpts...)
	}
}

// Loop consumes inbound messages until the context is cancelled.
func (b *Bot) Loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot loop stopping", "reason", ctx.Err())
			return nil
		case msg, ok := <-b.msgService.Messages():
			if !ok {
				slog.Info("Bot message channel closed, stopping loop")
				return nil
			}
			b.handleMessage(ctx, msg)
		}
	}
}

// handleMessage applies scheduled reactions, rolls the surprise augmentation,
// and dispatches any command carried by the message.
func (b *Bot) handleMessage(ctx context.Context, msg models.Message) {
	if msg.FromSelf {
		return
	}

	emojis, err := b.registry.Active(msg.From)
	if err != nil {
		// In-memory state is still usable; the returned emojis are current.
		slog.Error("Bot failed to persist registry during lookup", "error", err, "from", msg.From)
	}
	for _, emoji := range emojis {
		if err := b.queue.Wait(ctx); err != nil {
			slog.Debug("Bot reaction throttle interrupted", "error", err, "from", msg.From)
			return
		}
		// Deleted messages and transient platform failures only skip this
		// one reaction; the rest still apply.
		if err := b.msgService.React(ctx, msg.Ref, emoji); err != nil {
			slog.Warn("Bot failed to apply reaction, skipping", "error", err, "emoji", emoji, "from", msg.From)
			continue
		}
	}

	if picked, err := b.augmenter.MaybeAugment(msg.From); err != nil {
		slog.Error("Bot augmentation failed", "error", err, "from", msg.From)
	} else if picked != "" {
		slog.Info("Bot scheduled surprise reaction", "emoji", picked, "from", msg.From)
	}

	if handled, err := b.commands.HandleCommand(ctx, msg); err != nil {
		slog.Error("Bot command handling failed", "error", err, "from", msg.From)
	} else if handled {
		slog.Debug("Bot handled command message", "from", msg.From)
	}
}
