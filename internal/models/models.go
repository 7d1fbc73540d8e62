package models

import "time"

// PowerState is the current liveness state of a device.
// "unknown" only ever appears before the first accepted heartbeat;
// after that the state alternates between "on" and "off".
type PowerState string

const (
	StateUnknown PowerState = "unknown"
	StateOn      PowerState = "on"
	StateOff     PowerState = "off"
)

type User struct {
	ID         int64     `json:"id" db:"id"`
	TelegramID int64     `json:"telegram_id" db:"telegram_id"`
	Username   string    `json:"username" db:"username"`
	FirstName  string    `json:"first_name" db:"first_name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Device is a monitored power line tied to a Telegram channel.
// The token is the only credential accepted by the ping endpoint.
type Device struct {
	ID                 int64      `json:"id" db:"id"`
	UserID             int64      `json:"user_id" db:"user_id"`
	ChannelID          int64      `json:"channel_id" db:"channel_id"`
	Token              string     `json:"token" db:"token"`
	Timezone           string     `json:"timezone" db:"timezone"`
	State              PowerState `json:"state" db:"state"`
	IsActive           bool       `json:"is_active" db:"is_active"`     // false = paused, the checker skips it
	PingTarget         string     `json:"ping_target" db:"ping_target"` // non-empty for actively probed devices
	LastHeartbeatAt    *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	LastStatusChangeAt *time.Time `json:"last_status_change_at,omitempty" db:"last_status_change_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// StatusEvent is one record of the append-only transition log.
// Per device the states alternate and timestamps never decrease; heartbeats
// that don't change state never produce an event.
type StatusEvent struct {
	ID        int64     `json:"id" db:"id"`
	DeviceID  int64     `json:"device_id" db:"device_id"`
	IsOnline  bool      `json:"is_online" db:"is_online"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// DailyStats is derived from the transition log for one device-local
// calendar day, never persisted.
type DailyStats struct {
	Uptime   time.Duration
	Downtime time.Duration
	Outages  int
}
