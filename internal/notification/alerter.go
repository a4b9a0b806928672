package notification

import (
	"context"
	"fmt"
	"log"
	"time"
)

// TradeAlerter bridges position lifecycle failures to a Notifier backend.
// Deliveries run on a background goroutine so a slow Telegram call never
// blocks the per-symbol trading loop.
type TradeAlerter struct {
	notifier Notifier
	dryRun   bool
	timeout  time.Duration
}

// NewTradeAlerter creates an alerter over the given backend. In dry-run
// mode alert titles are prefixed so paper failures are never mistaken
// for live ones.
func NewTradeAlerter(notifier Notifier, dryRun bool) *TradeAlerter {
	return &TradeAlerter{
		notifier: notifier,
		dryRun:   dryRun,
		timeout:  15 * time.Second,
	}
}

// OrderFailure reports a recoverable order problem (placement error,
// rejected fill, bounded exit retry).
func (a *TradeAlerter) OrderFailure(symbol, reason string) {
	a.dispatch(Alert{
		Level:   AlertWarning,
		Symbol:  symbol,
		Title:   a.title("Order failure: " + symbol),
		Message: reason,
		At:      time.Now().UTC(),
	})
}

// CriticalFailure reports a position that could not be exited after all
// retries and now needs manual intervention.
func (a *TradeAlerter) CriticalFailure(symbol, reason string) {
	a.dispatch(Alert{
		Level:   AlertCritical,
		Symbol:  symbol,
		Title:   a.title(fmt.Sprintf("MANUAL INTERVENTION REQUIRED: %s", symbol)),
		Message: reason,
		At:      time.Now().UTC(),
	})
}

func (a *TradeAlerter) title(s string) string {
	if a.dryRun {
		return "[DRY RUN] " + s
	}
	return s
}

func (a *TradeAlerter) dispatch(alert Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.notifier.Send(ctx, alert); err != nil {
			log.Printf("[notify] alert delivery failed (%s): %v", alert.Title, err)
		}
	}()
}
