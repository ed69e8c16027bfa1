package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/telemetry"
)

// Dispatcher fans a fired alert out to its channels. Delivery failures
// are logged per channel and never returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *store.AlertConfig, value float64, firedAt time.Time)
}

type dispatcher struct {
	log     logrus.FieldLogger
	senders map[store.NotificationChannel]Sender
}

// Ensure interface compliance.
var _ Dispatcher = (*dispatcher)(nil)

// NewDispatcher creates a dispatcher over the given senders. A channel
// without a sender is skipped.
func NewDispatcher(
	log logrus.FieldLogger,
	senders map[store.NotificationChannel]Sender,
) Dispatcher {
	return &dispatcher{
		log:     log.WithField("component", "alert-dispatcher"),
		senders: senders,
	}
}

// NewDispatcherFromConfig wires a sender for every configured channel.
// IN_APP and WEBHOOK are always available.
func NewDispatcherFromConfig(log logrus.FieldLogger, cfg *config.NotificationsConfig) Dispatcher {
	senders := map[store.NotificationChannel]Sender{
		store.ChannelInApp:   NewLogSender(log),
		store.ChannelWebhook: NewWebhookSender(&cfg.Webhook),
	}

	if cfg.Slack.WebhookURL != "" {
		senders[store.ChannelSlack] = NewIncomingWebhookSender(cfg.Slack.WebhookURL, &cfg.Webhook)
	}

	if cfg.Teams.WebhookURL != "" {
		senders[store.ChannelTeams] = NewIncomingWebhookSender(cfg.Teams.WebhookURL, &cfg.Webhook)
	}

	if cfg.Email.Enabled {
		senders[store.ChannelEmail] = NewEmailSender(cfg.Email)
	}

	return NewDispatcher(log, senders)
}

func (d *dispatcher) Dispatch(
	ctx context.Context, a *store.AlertConfig, value float64, firedAt time.Time,
) {
	body := FormatMessage(a, value)
	subject := Subject(a)

	for _, ch := range a.Channels {
		log := d.log.WithFields(logrus.Fields{
			"alert_id": a.ID,
			"channel":  ch,
		})

		sender, ok := d.senders[ch]
		if !ok {
			log.Debug("No sender configured for channel, skipping")

			continue
		}

		for _, target := range targets(a, ch) {
			n := Notification{
				Channel: ch,
				Target:  target,
				Subject: subject,
				Body:    body,
				Alert:   a,
				Value:   value,
				FiredAt: firedAt,
			}

			if err := safeSend(ctx, sender, n); err != nil {
				telemetry.NotificationFailures.WithLabelValues(string(ch)).Inc()
				log.WithError(err).Warn("Failed to deliver alert notification")

				continue
			}

			log.Debug("Alert notification delivered")
		}
	}
}

// targets lists the destinations for one channel. EMAIL yields one target
// per recipient and WEBHOOK none when no URL is set.
func targets(a *store.AlertConfig, ch store.NotificationChannel) []string {
	switch ch {
	case store.ChannelEmail:
		return a.Recipients
	case store.ChannelWebhook:
		if a.WebhookURL == "" {
			return nil
		}

		return []string{a.WebhookURL}
	default:
		return []string{""}
	}
}

func safeSend(ctx context.Context, s Sender, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()

	return s.Send(ctx, n)
}
