package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/platform/queue"
)

// outcomeTTL is how long a settled outcome can still be fetched.
const outcomeTTL = 10 * time.Minute

// Outcomes follows submitted requests until they settle, keeps recent
// outcomes for lookup and fans them out to WebSocket listeners. With a
// notifier the fan-out goes through it, so every server instance sharing
// the notifier can reach its own listeners.
type Outcomes struct {
	stash    *gocache.Cache
	hub      *Hub
	notifier domain.OutcomeNotifier
	logger   *slog.Logger
}

// NewOutcomes returns a tracker delivering to hub. notifier may be nil.
func NewOutcomes(hub *Hub, notifier domain.OutcomeNotifier, logger *slog.Logger) *Outcomes {
	return &Outcomes{
		stash:    gocache.New(outcomeTTL, time.Minute),
		hub:      hub,
		notifier: notifier,
		logger:   logger,
	}
}

// Track marks requestID as pending and announces its outcome once future
// settles.
func (o *Outcomes) Track(requestID string, future *queue.Future[json.RawMessage]) {
	o.stash.SetDefault(requestID, (*domain.Notification)(nil))

	go func() {
		<-future.Done()
		outcome, _ := future.Outcome()
		n := domain.NewNotification(requestID, outcome)
		o.stash.SetDefault(requestID, &n)

		if !n.Success {
			o.logger.Info("Request failed", "requestID", requestID, "errors", n.Errors)
		}

		if o.notifier == nil {
			o.hub.Deliver(n)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.notifier.Publish(ctx, n); err != nil {
			o.logger.Error("Failed to publish outcome, delivering locally", "requestID", requestID, "error", err)
			o.hub.Deliver(n)
		}
	}()
}

// Lookup returns the outcome of requestID. known is false for ids never
// tracked or expired; a known id with a nil outcome is still pending.
func (o *Outcomes) Lookup(requestID string) (n *domain.Notification, known bool) {
	v, ok := o.stash.Get(requestID)
	if !ok {
		return nil, false
	}
	n, _ = v.(*domain.Notification)
	return n, true
}

// Run forwards notifications from the notifier to the hub until ctx is
// done. Without a notifier it only waits for ctx.
func (o *Outcomes) Run(ctx context.Context) error {
	if o.notifier == nil {
		<-ctx.Done()
		return nil
	}

	o.logger.Info("Starting outcome broadcaster...")
	ch, err := o.notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	for n := range ch {
		o.hub.Deliver(n)
	}
	return nil
}
