package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	tele "gopkg.in/telebot.v3"

	"light-status-bot/internal/database"
	"light-status-bot/internal/models"
	"light-status-bot/internal/mq"
)

const uniqueViolation = "23505"

func (b *Bot) handleStart(c tele.Context) error {
	return c.Send(msgStart, htmlOpts)
}

// channelArg parses the first command argument as a channel ID.
func channelArg(c tele.Context) (int64, bool) {
	args := c.Args()
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// deviceForOwner loads the device for the given channel and verifies the
// sender owns it. On failure it has already replied and returns nil.
func (b *Bot) deviceForOwner(ctx context.Context, c tele.Context, channelID int64) *models.Device {
	device, err := b.db.GetDeviceByChannelID(ctx, channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = c.Send(msgNotConfigured)
		return nil
	}
	if err != nil {
		log.Printf("[bot] load device for channel %d: %v", channelID, err)
		_ = c.Send(msgError)
		return nil
	}

	ownerID, err := b.db.GetOwnerTelegramIDByDeviceID(ctx, device.ID)
	if err != nil {
		log.Printf("[bot] load owner for device %d: %v", device.ID, err)
		_ = c.Send(msgError)
		return nil
	}
	if ownerID != c.Sender().ID {
		_ = c.Send(msgNotOwner)
		return nil
	}
	return device
}

func (b *Bot) handleCreate(c tele.Context) error {
	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	ctx := context.Background()

	sender := c.Sender()
	user, err := b.db.UpsertUser(ctx, sender.ID, sender.Username, sender.FirstName)
	if err != nil {
		log.Printf("[bot] upsert user %d: %v", sender.ID, err)
		return c.Send(msgError)
	}

	if _, err := b.db.GetDeviceByChannelID(ctx, channelID); err == nil {
		return c.Send(msgAlreadyExists)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		log.Printf("[bot] check channel %d: %v", channelID, err)
		return c.Send(msgError)
	}

	device, err := b.db.CreateDevice(ctx, user.ID, channelID, b.defaultTZ)
	if err != nil {
		log.Printf("[bot] create device for channel %d: %v", channelID, err)
		return c.Send(msgError)
	}

	b.publishSync(mq.DeviceSyncMsg{Action: mq.DeviceSyncUpsert, DeviceID: device.ID})
	return c.Send(fmt.Sprintf(msgCreated, device.Token, b.baseURL, device.Token), htmlOpts)
}

func (b *Bot) handleKey(c tele.Context) error {
	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}
	return c.Send(fmt.Sprintf(msgShowKey, device.Token, b.baseURL, device.Token), htmlOpts)
}

func (b *Bot) handleNewKey(c tele.Context) error {
	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	newToken, err := b.db.RotateToken(ctx, device.ID)
	if err != nil {
		log.Printf("[bot] rotate token for device %d: %v", device.ID, err)
		return c.Send(msgError)
	}

	b.publishSync(mq.DeviceSyncMsg{Action: mq.DeviceSyncUpsert, DeviceID: device.ID, OldToken: device.Token})
	return c.Send(fmt.Sprintf(msgNewKey, newToken, b.baseURL, newToken), htmlOpts)
}

func (b *Bot) handleSetKey(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send(msgInvalidChannelID)
	}
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send(msgInvalidChannelID)
	}
	newToken := args[1]
	if _, err := uuid.Parse(newToken); err != nil {
		return c.Send(msgInvalidKey)
	}

	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	if err := b.db.ReplaceToken(ctx, device.ID, newToken); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return c.Send(msgKeyInUse)
		}
		log.Printf("[bot] replace token for device %d: %v", device.ID, err)
		return c.Send(msgError)
	}

	b.publishSync(mq.DeviceSyncMsg{Action: mq.DeviceSyncUpsert, DeviceID: device.ID, OldToken: device.Token})
	return c.Send(fmt.Sprintf(msgSetKey, newToken), htmlOpts)
}

func (b *Bot) handleTimezone(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send(msgInvalidChannelID)
	}
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send(msgInvalidChannelID)
	}
	tz := args[1]
	if _, err := time.LoadLocation(tz); err != nil {
		return c.Send(msgInvalidTimezone)
	}

	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	if err := b.db.SetTimezone(ctx, device.ID, tz); err != nil {
		log.Printf("[bot] set timezone for device %d: %v", device.ID, err)
		return c.Send(msgError)
	}

	b.publishSync(mq.DeviceSyncMsg{Action: mq.DeviceSyncUpsert, DeviceID: device.ID})
	return c.Send(fmt.Sprintf(msgTimezoneSet, tz))
}

func (b *Bot) handleTarget(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send(msgInvalidChannelID)
	}
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send(msgInvalidChannelID)
	}
	target := args[1]
	if target == "off" {
		target = ""
	}

	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	if err := b.db.SetPingTarget(ctx, device.ID, target); err != nil {
		log.Printf("[bot] set ping target for device %d: %v", device.ID, err)
		return c.Send(msgError)
	}

	if target == "" {
		return c.Send(msgTargetCleared)
	}
	return c.Send(fmt.Sprintf(msgTargetSet, target))
}

func (b *Bot) handlePause(c tele.Context) error {
	return b.setActive(c, false, msgPaused)
}

func (b *Bot) handleResume(c tele.Context) error {
	return b.setActive(c, true, msgResumed)
}

func (b *Bot) setActive(c tele.Context, active bool, reply string) error {
	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	if err := b.db.SetDeviceActive(ctx, device.ID, active); err != nil {
		log.Printf("[bot] set active=%v for device %d: %v", active, device.ID, err)
		return c.Send(msgError)
	}

	b.publishSync(mq.DeviceSyncMsg{Action: mq.DeviceSyncUpsert, DeviceID: device.ID})
	return c.Send(reply)
}

func (b *Bot) handleDelete(c tele.Context) error {
	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	if err := b.db.DeleteDevice(ctx, device.ID); err != nil {
		log.Printf("[bot] delete device %d: %v", device.ID, err)
		return c.Send(msgError)
	}

	b.publishSync(mq.DeviceSyncMsg{Action: mq.DeviceSyncDelete, DeviceID: device.ID, Token: device.Token})
	return c.Send(msgDeleted)
}

func (b *Bot) handleTransfer(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send(msgInvalidChannelID)
	}
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send(msgInvalidChannelID)
	}
	newOwnerID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return c.Send(msgInvalidUserID)
	}

	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	newOwner, err := b.db.UpsertUser(ctx, newOwnerID, "", "")
	if err != nil {
		log.Printf("[bot] upsert new owner %d: %v", newOwnerID, err)
		return c.Send(msgError)
	}
	if err := b.db.TransferOwner(ctx, device.ID, newOwner.ID); err != nil {
		log.Printf("[bot] transfer device %d: %v", device.ID, err)
		return c.Send(msgError)
	}

	return c.Send(fmt.Sprintf(msgTransferred, newOwnerID))
}

func (b *Bot) handleHistory(c tele.Context) error {
	args := c.Args()
	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	limit := 10
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	events, err := b.db.RecentEvents(ctx, device.ID, limit)
	if err != nil {
		log.Printf("[bot] history for device %d: %v", device.ID, err)
		return c.Send(msgError)
	}
	if len(events) == 0 {
		return c.Send(msgHistoryEmpty)
	}

	loc, err := time.LoadLocation(device.Timezone)
	if err != nil {
		loc = time.UTC
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, msgHistoryHeader, len(events))
	var prev *models.StatusEvent
	for _, e := range events {
		emoji, text := "🔴", "зникло"
		if e.IsOnline {
			emoji, text = "🟢", "з'явилося"
		}
		durText := ""
		if prev != nil {
			// How long this state lasted until the next (more recent) change.
			durText = fmt.Sprintf(" (тривало %s)", database.FormatDuration(prev.Timestamp.Sub(e.Timestamp)))
		}
		fmt.Fprintf(&sb, "%s %s Світло %s%s\n", emoji, e.Timestamp.In(loc).Format("02.01 15:04"), text, durText)
		prev = e
	}
	return c.Send(sb.String())
}

func (b *Bot) handleStats(c tele.Context) error {
	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	ctx := context.Background()
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}

	daily, err := b.stats.Daily(ctx, device.ID, device.Timezone, device.State, time.Now())
	if err != nil {
		log.Printf("[bot] stats for device %d: %v", device.ID, err)
		return c.Send(msgError)
	}
	if daily == nil {
		return c.Send(msgStatsNoData)
	}

	return c.Send(fmt.Sprintf(msgStatsDaily,
		database.FormatDuration(daily.Uptime),
		database.FormatDuration(daily.Downtime),
		daily.Outages,
	))
}

func (b *Bot) handleStatus(c tele.Context) error {
	ctx := context.Background()
	if len(c.Args()) == 0 {
		return b.statusOverview(ctx, c)
	}

	channelID, ok := channelArg(c)
	if !ok {
		return c.Send(msgInvalidChannelID)
	}
	device := b.deviceForOwner(ctx, c, channelID)
	if device == nil {
		return nil
	}
	return c.Send(deviceStatusText(device, time.Now()))
}

// statusOverview lists every device owned by the sender grouped by state.
func (b *Bot) statusOverview(ctx context.Context, c tele.Context) error {
	devices, err := b.db.GetDevicesByTelegramID(ctx, c.Sender().ID)
	if err != nil {
		log.Printf("[bot] list devices for user %d: %v", c.Sender().ID, err)
		return c.Send(msgError)
	}
	if len(devices) == 0 {
		return c.Send(msgNoChannels)
	}

	now := time.Now()
	var online, offline, noData []*models.Device
	for _, d := range devices {
		switch {
		case d.LastHeartbeatAt == nil:
			noData = append(noData, d)
		case d.State == models.StateOn:
			online = append(online, d)
		default:
			offline = append(offline, d)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Ваші канали (%d всього)\n\n", len(devices))
	writeGroup := func(title string, group []*models.Device) {
		if len(group) == 0 {
			return
		}
		fmt.Fprintf(&sb, "%s (%d):\n", title, len(group))
		for _, d := range group {
			fmt.Fprintf(&sb, "  %d (%s)\n", d.ChannelID, d.Timezone)
			if d.LastHeartbeatAt != nil {
				fmt.Fprintf(&sb, "  └ %s тому\n", database.FormatDuration(now.Sub(*d.LastHeartbeatAt)))
			}
		}
		sb.WriteString("\n")
	}
	writeGroup("🟢 Онлайн", online)
	writeGroup("🔴 Офлайн", offline)
	writeGroup("⚠️ Немає даних", noData)

	return c.Send(strings.TrimRight(sb.String(), "\n"))
}

func deviceStatusText(d *models.Device, now time.Time) string {
	if d.LastHeartbeatAt == nil {
		return msgStatusNoData
	}
	msg := msgStatusOffline
	if d.State == models.StateOn {
		msg = msgStatusOnline
	}
	msg += fmt.Sprintf(msgStatusLastPing, database.FormatDuration(now.Sub(*d.LastHeartbeatAt)))
	if d.LastStatusChangeAt != nil {
		msg += fmt.Sprintf(msgStatusChangedAt, database.FormatDuration(now.Sub(*d.LastStatusChangeAt)))
	}
	if !d.IsActive {
		msg += msgStatusPausedTag
	}
	return msg
}

// handleMyChatMember posts the current power status into a configured channel
// as soon as the bot gains access to it, so a freshly linked channel shows
// where things stand without waiting for the next transition.
func (b *Bot) handleMyChatMember(c tele.Context) error {
	upd := c.ChatMember()
	if upd == nil || upd.Chat == nil || upd.Chat.Type != tele.ChatChannel || upd.NewChatMember == nil {
		return nil
	}
	role := upd.NewChatMember.Role
	if role != tele.Administrator && role != tele.Member {
		return nil
	}

	ctx := context.Background()
	device, err := b.db.GetDeviceByChannelID(ctx, upd.Chat.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		log.Printf("[bot] load device for channel %d: %v", upd.Chat.ID, err)
		return nil
	}
	return c.Send(deviceStatusText(device, time.Now()))
}

// handleForwarded replies with the channel ID when a user forwards a
// message from their channel, so they don't have to dig it up manually.
func (b *Bot) handleForwarded(c tele.Context) error {
	m := c.Message()
	if m == nil || m.OriginalChat == nil || m.OriginalChat.Type != tele.ChatChannel {
		return nil
	}
	id := m.OriginalChat.ID
	return c.Send(fmt.Sprintf(msgForwardedID, id, id), htmlOpts)
}
