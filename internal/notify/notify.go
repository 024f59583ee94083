package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketops/alertd/internal/alerting"
)

// Channel delivers one alert to one configured target. Implementations are
// stateless per send and must honor context cancellation.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *alerting.Alert) error
}

// Result records the outcome of one channel delivery
type Result struct {
	Channel string
	Err     error
}

// defaultSendTimeout bounds one channel call so a dead endpoint cannot stall
// the tick
const defaultSendTimeout = 10 * time.Second

// Dispatcher fans an alert out to every configured channel. Channels are
// independent: each gets its own goroutine and timeout, and one failure never
// blocks or fails the others. No retries; delivery is fire-and-forget.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher over the given channels. A zero timeout
// falls back to the default per-channel send timeout.
func NewDispatcher(channels []Channel, timeout time.Duration, logger *logrus.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{channels: channels, timeout: timeout, logger: logger}
}

// Dispatch delivers alert to all channels concurrently and waits for every
// send to finish or time out before returning
func (d *Dispatcher) Dispatch(ctx context.Context, alert *alerting.Alert) []Result {
	results := make([]Result, len(d.channels))
	var wg sync.WaitGroup

	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := ch.Send(sendCtx, alert)
			results[i] = Result{Channel: ch.Name(), Err: err}

			entry := d.logger.WithFields(logrus.Fields{
				"channel":  ch.Name(),
				"rule":     alert.RuleName,
				"severity": alert.Severity,
			})
			if err != nil {
				entry.WithError(err).Error("Notification delivery failed")
			} else {
				entry.Debug("Notification delivered")
			}
		}(i, ch)
	}

	wg.Wait()
	return results
}
