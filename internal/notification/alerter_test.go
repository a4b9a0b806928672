package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	alerts chan Alert
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{alerts: make(chan Alert, 8)}
}

func (c *captureNotifier) Send(ctx context.Context, alert Alert) error {
	c.alerts <- alert
	return nil
}

func (c *captureNotifier) next(t *testing.T) Alert {
	t.Helper()
	select {
	case a := <-c.alerts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
		return Alert{}
	}
}

func TestTradeAlerter_OrderFailureIsWarning(t *testing.T) {
	capture := newCaptureNotifier()
	alerter := NewTradeAlerter(capture, false)

	alerter.OrderFailure("BTCUSDT", "exit failed, retrying: insufficient margin")

	a := capture.next(t)
	assert.Equal(t, AlertWarning, a.Level)
	assert.Equal(t, "BTCUSDT", a.Symbol)
	assert.Equal(t, "Order failure: BTCUSDT", a.Title)
	assert.Contains(t, a.Message, "insufficient margin")
	assert.False(t, a.At.IsZero())
}

func TestTradeAlerter_CriticalFailureDemandsIntervention(t *testing.T) {
	capture := newCaptureNotifier()
	alerter := NewTradeAlerter(capture, false)

	alerter.CriticalFailure("ETHUSDT", "exit retries exhausted")

	a := capture.next(t)
	assert.Equal(t, AlertCritical, a.Level)
	assert.Contains(t, a.Title, "MANUAL INTERVENTION REQUIRED")
	assert.Contains(t, a.Title, "ETHUSDT")
}

func TestTradeAlerter_DryRunPrefixesTitle(t *testing.T) {
	capture := newCaptureNotifier()
	alerter := NewTradeAlerter(capture, true)

	alerter.OrderFailure("BTCUSDT", "entry unconfirmed within timeout")

	a := capture.next(t)
	require.Contains(t, a.Title, "[DRY RUN]")
}

func TestMultiNotifier_ContinuesPastFailure(t *testing.T) {
	capture := newCaptureNotifier()
	multi := NewMultiNotifier(failingNotifier{}, capture)

	err := multi.Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Message: "m"})
	assert.Error(t, err)

	a := capture.next(t)
	assert.Equal(t, "t", a.Title)
}

type failingNotifier struct{}

func (failingNotifier) Send(ctx context.Context, alert Alert) error {
	return context.DeadlineExceeded
}
