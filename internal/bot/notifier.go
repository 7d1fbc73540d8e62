package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	tele "gopkg.in/telebot.v3"

	"light-status-bot/internal/database"
	"light-status-bot/internal/mq"
)

// ChannelNotifier turns committed status-change messages into channel posts.
// Failures never propagate back to the state machine; a channel access error
// pauses the device and tells the owner instead.
type ChannelNotifier struct {
	bot *tele.Bot
	db  *database.DB
	pub *mq.Publisher
}

func NewChannelNotifier(b *tele.Bot, db *database.DB, pub *mq.Publisher) *ChannelNotifier {
	return &ChannelNotifier{bot: b, db: db, pub: pub}
}

// HandleStatusChange sends the notification for one transition.
func (n *ChannelNotifier) HandleStatusChange(msg mq.StatusChangeMsg) {
	chat := &tele.Chat{ID: msg.ChannelID}
	if _, err := n.bot.Send(chat, statusChangeText(msg), htmlOpts); err != nil {
		n.handleSendError(msg, err)
	}
}

// statusChangeText composes the channel message: transition line with the
// local time and elapsed duration, plus the same-day stats when available.
func statusChangeText(msg mq.StatusChangeMsg) string {
	loc, err := time.LoadLocation(msg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	timeStr := msg.When.In(loc).Format("15:04")
	dur := database.FormatDuration(time.Duration(msg.DurationSec * float64(time.Second)))

	var text string
	switch {
	case msg.IsOnline && msg.DurationKnown:
		text = fmt.Sprintf(msgNotifyOnline, timeStr, dur)
	case msg.IsOnline:
		text = fmt.Sprintf(msgNotifyOnlineNoDur, timeStr)
	case msg.DurationKnown:
		text = fmt.Sprintf(msgNotifyOffline, timeStr, dur)
	default:
		text = fmt.Sprintf(msgNotifyOfflineNoDur, timeStr)
	}

	if msg.HasStats {
		text += fmt.Sprintf(msgNotifyStatsLine,
			database.FormatDuration(time.Duration(msg.UptimeSec*float64(time.Second))),
			database.FormatDuration(time.Duration(msg.DowntimeSec*float64(time.Second))),
			msg.Outages,
		)
	}
	return text
}

// isChannelError reports whether a Telegram API error means the bot lost
// access to a channel.
func isChannelError(err error) bool {
	return errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrKickedFromChannel) ||
		errors.Is(err, tele.ErrNotChannelMember) ||
		errors.Is(err, tele.ErrNoRightsToSend)
}

// handleSendError pauses the device on channel access errors and DMs the
// owner; anything else is just logged.
func (n *ChannelNotifier) handleSendError(msg mq.StatusChangeMsg, err error) {
	if !isChannelError(err) {
		log.Printf("[bot] failed to send notification to channel %d: %v", msg.ChannelID, err)
		return
	}
	log.Printf("[bot] channel access lost for device %d, pausing", msg.DeviceID)

	ctx := context.Background()
	if dbErr := n.db.SetDeviceActive(ctx, msg.DeviceID, false); dbErr != nil {
		log.Printf("[bot] failed to pause device %d: %v", msg.DeviceID, dbErr)
	} else if n.pub != nil {
		syncMsg := mq.DeviceSyncMsg{Action: mq.DeviceSyncUpsert, DeviceID: msg.DeviceID}
		if pubErr := n.pub.Publish(ctx, mq.RoutingDeviceSync, syncMsg); pubErr != nil {
			log.Printf("[bot] failed to publish device sync for device %d: %v", msg.DeviceID, pubErr)
		}
	}

	ownerID, dbErr := n.db.GetOwnerTelegramIDByDeviceID(ctx, msg.DeviceID)
	if dbErr != nil {
		log.Printf("[bot] failed to get owner for device %d: %v", msg.DeviceID, dbErr)
		return
	}
	user := &tele.Chat{ID: ownerID}
	if _, sendErr := n.bot.Send(user, fmt.Sprintf(msgChannelError, msg.ChannelID), htmlOpts); sendErr != nil {
		log.Printf("[bot] failed to send DM to user %d: %v", ownerID, sendErr)
	}
}
