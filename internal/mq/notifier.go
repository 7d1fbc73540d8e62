package mq

import (
	"context"
	"log"
	"time"

	"light-status-bot/internal/models"
)

// StatusNotifier implements heartbeat.Notifier by publishing to RabbitMQ.
// Publish failures are logged and dropped: the transition is already
// committed and must not be rolled back or retried here.
type StatusNotifier struct {
	pub *Publisher
}

// NewStatusNotifier creates a notifier that publishes status changes to RabbitMQ.
func NewStatusNotifier(pub *Publisher) *StatusNotifier {
	return &StatusNotifier{pub: pub}
}

// NotifyStatusChange publishes a status change message to the queue.
func (n *StatusNotifier) NotifyStatusChange(deviceID, channelID int64, timezone string, isOnline bool, duration time.Duration, durationKnown bool, when time.Time, daily *models.DailyStats) {
	msg := StatusChangeMsg{
		DeviceID:      deviceID,
		ChannelID:     channelID,
		IsOnline:      isOnline,
		DurationSec:   duration.Seconds(),
		DurationKnown: durationKnown,
		When:          when,
		Timezone:      timezone,
	}
	if daily != nil {
		msg.HasStats = true
		msg.UptimeSec = daily.Uptime.Seconds()
		msg.DowntimeSec = daily.Downtime.Seconds()
		msg.Outages = daily.Outages
	}
	if err := n.pub.Publish(context.Background(), RoutingStatusChange, msg); err != nil {
		log.Printf("[mq] failed to publish status change for device %d: %v", deviceID, err)
	}
}
