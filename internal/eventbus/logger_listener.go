package eventbus

import (
	"context"

	"github.com/annel0/chunk-streamer/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог шины.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	logger := logging.GetEventLogger()
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
