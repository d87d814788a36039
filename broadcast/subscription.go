package broadcast

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// SubscribeUpdates relays events published on channel to hub until ctx is
// done, resubscribing after a second whenever the subscription drops.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, hub *Hub) {
	for {
		sub := rc.Subscribe(ctx, channel)
		relay(ctx, logger, sub.Channel(), hub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func relay(ctx context.Context, logger *log.Logger, ch <-chan *redis.Message, hub *Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
				logger.Errorf("unable to parse update: %v", err)
				continue
			}
			if env.Event == "" || len(env.Data) == 0 {
				logger.Warnf("ignoring update without event or data on %s", msg.Channel)
				continue
			}
			hub.Broadcast(env.Event, env.Data)
		}
	}
}
