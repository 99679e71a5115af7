package chief

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fedsync/pkg/mqtt"
	"github.com/absmach/fedsync/pkg/roster"
)

const (
	rosterTopicTemplate = "fedsync/%s/roster"
	roundsTopicTemplate = "fedsync/%s/rounds"
)

var errInvalidNotice = errors.New("invalid notice payload")

func RosterTopic(channel string) string {
	return fmt.Sprintf(rosterTopicTemplate, channel)
}

func RoundsTopic(channel string) string {
	return fmt.Sprintf(roundsTopicTemplate, channel)
}

type mqttNotifier struct {
	pubsub  mqtt.PubSub
	channel string
}

// NewMQTTNotifier publishes the closed roster and every resolved round on the
// channel's topics.
func NewMQTTNotifier(pubsub mqtt.PubSub, channel string) Notifier {
	return &mqttNotifier{pubsub: pubsub, channel: channel}
}

func (n *mqttNotifier) Broadcast(ctx context.Context, r roster.Roster) error {
	return n.pubsub.Publish(ctx, RosterTopic(n.channel), r)
}

func (n *mqttNotifier) RoundResolved(ctx context.Context, notice RoundNotice) error {
	return n.pubsub.Publish(ctx, RoundsTopic(n.channel), notice)
}

// Subscribe delivers roster and round notices of channel to the given
// callbacks. Either callback may be nil.
func Subscribe(ctx context.Context, channel string, pubsub mqtt.PubSub, onRoster func(roster.Roster), onRound func(RoundNotice), logger *slog.Logger) error {
	h := Handle(channel, onRoster, onRound, logger)
	if err := pubsub.Subscribe(ctx, RosterTopic(channel), h); err != nil {
		return err
	}

	return pubsub.Subscribe(ctx, RoundsTopic(channel), h)
}

func Handle(channel string, onRoster func(roster.Roster), onRound func(RoundNotice), logger *slog.Logger) mqtt.Handler {
	return func(topic string, msg map[string]any) error {
		switch topic {
		case RosterTopic(channel):
			var r roster.Roster
			if err := decode(msg, &r); err != nil {
				return err
			}
			logger.Info("received roster", slog.String("run_id", r.RunID), slog.Int("num_workers", r.NumWorkers))
			if onRoster != nil {
				onRoster(r)
			}
		case RoundsTopic(channel):
			var notice RoundNotice
			if err := decode(msg, &notice); err != nil {
				return err
			}
			logger.Info("received round notice",
				slog.Uint64("round", notice.Round),
				slog.Uint64("global_step", notice.GlobalStep),
				slog.String("outcome", string(notice.Outcome)),
			)
			if onRound != nil {
				onRound(notice)
			}
		}

		return nil
	}
}

func decode(msg map[string]any, v any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Join(errInvalidNotice, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(errInvalidNotice, err)
	}

	return nil
}
