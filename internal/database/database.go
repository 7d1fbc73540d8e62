package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"light-status-bot/internal/models"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the schema if it doesn't exist.
func (db *DB) Migrate(ctx context.Context) error {
	sql := `
	CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		telegram_id   BIGINT UNIQUE NOT NULL,
		username      TEXT NOT NULL DEFAULT '',
		first_name    TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS devices (
		id                    BIGSERIAL PRIMARY KEY,
		user_id               BIGINT NOT NULL REFERENCES users(id),
		channel_id            BIGINT UNIQUE NOT NULL,
		token                 UUID UNIQUE NOT NULL DEFAULT gen_random_uuid(),
		timezone              TEXT NOT NULL DEFAULT 'Europe/Kyiv',
		state                 TEXT NOT NULL DEFAULT 'unknown',
		is_active             BOOLEAN NOT NULL DEFAULT TRUE,
		ping_target           TEXT NOT NULL DEFAULT '',
		last_heartbeat_at     TIMESTAMPTZ,
		last_status_change_at TIMESTAMPTZ,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_devices_token   ON devices(token);
	CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id);

	CREATE TABLE IF NOT EXISTS status_events (
		id          BIGSERIAL PRIMARY KEY,
		device_id   BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		is_online   BOOLEAN NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_events_device_time
		ON status_events (device_id, timestamp DESC);
	`
	_, err := db.Pool.Exec(ctx, sql)
	return err
}

const deviceColumns = `id, user_id, channel_id, token, timezone, state, is_active,
	       ping_target, last_heartbeat_at, last_status_change_at, created_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(
		&d.ID, &d.UserID, &d.ChannelID, &d.Token, &d.Timezone, &d.State,
		&d.IsActive, &d.PingTarget, &d.LastHeartbeatAt, &d.LastStatusChangeAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertUser creates or updates a user and returns their record.
func (db *DB) UpsertUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, error) {
	var u models.User
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO users (telegram_id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO UPDATE SET username = $2, first_name = $3
		RETURNING id, telegram_id, username, first_name, created_at
	`, telegramID, username, firstName).Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateDevice inserts a new device and returns it with the generated token.
func (db *DB) CreateDevice(ctx context.Context, userID, channelID int64, timezone string) (*models.Device, error) {
	return scanDevice(db.Pool.QueryRow(ctx, `
		INSERT INTO devices (user_id, channel_id, timezone)
		VALUES ($1, $2, $3)
		RETURNING `+deviceColumns+`
	`, userID, channelID, timezone))
}

// GetDeviceByToken returns a device by its unique heartbeat token.
func (db *DB) GetDeviceByToken(ctx context.Context, token string) (*models.Device, error) {
	return scanDevice(db.Pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE token = $1
	`, token))
}

// GetDeviceByID returns a device by its primary key.
func (db *DB) GetDeviceByID(ctx context.Context, id int64) (*models.Device, error) {
	return scanDevice(db.Pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE id = $1
	`, id))
}

// GetDeviceByChannelID returns the device linked to the given Telegram channel.
func (db *DB) GetDeviceByChannelID(ctx context.Context, channelID int64) (*models.Device, error) {
	return scanDevice(db.Pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE channel_id = $1
	`, channelID))
}

// GetDevicesByTelegramID returns all devices owned by the user with the given Telegram ID.
func (db *DB) GetDevicesByTelegramID(ctx context.Context, telegramID int64) ([]*models.Device, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT d.id, d.user_id, d.channel_id, d.token, d.timezone, d.state, d.is_active,
		       d.ping_target, d.last_heartbeat_at, d.last_status_change_at, d.created_at
		FROM devices d
		JOIN users u ON u.id = d.user_id
		WHERE u.telegram_id = $1
		ORDER BY d.created_at
	`, telegramID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDevices(rows)
}

// GetAllDevices returns every device in the database.
func (db *DB) GetAllDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+deviceColumns+` FROM devices ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDevices(rows)
}

func collectDevices(rows pgx.Rows) ([]*models.Device, error) {
	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// RotateToken replaces the device token with a fresh random one and returns it.
// The old token stops working immediately.
func (db *DB) RotateToken(ctx context.Context, deviceID int64) (string, error) {
	var token string
	err := db.Pool.QueryRow(ctx, `
		UPDATE devices SET token = gen_random_uuid() WHERE id = $1 RETURNING token
	`, deviceID).Scan(&token)
	return token, err
}

// ReplaceToken sets a caller-provided token on the device.
func (db *DB) ReplaceToken(ctx context.Context, deviceID int64, token string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices SET token = $2 WHERE id = $1
	`, deviceID, token)
	return err
}

// SetTimezone updates the device timezone used for local-day boundaries.
func (db *DB) SetTimezone(ctx context.Context, deviceID int64, tz string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices SET timezone = $2 WHERE id = $1
	`, deviceID, tz)
	return err
}

// SetPingTarget sets the host the active prober pings for this device.
// An empty target disables active probing.
func (db *DB) SetPingTarget(ctx context.Context, deviceID int64, target string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices SET ping_target = $2 WHERE id = $1
	`, deviceID, target)
	return err
}

// SetDeviceActive pauses or resumes offline detection for the device.
func (db *DB) SetDeviceActive(ctx context.Context, deviceID int64, isActive bool) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices SET is_active = $2 WHERE id = $1
	`, deviceID, isActive)
	return err
}

// DeleteDevice removes the device; status events cascade.
func (db *DB) DeleteDevice(ctx context.Context, deviceID int64) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, deviceID)
	return err
}

// TransferOwner reassigns the device to another user record.
func (db *DB) TransferOwner(ctx context.Context, deviceID, newUserID int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices SET user_id = $2 WHERE id = $1
	`, deviceID, newUserID)
	return err
}

// GetOwnerTelegramIDByDeviceID returns the Telegram ID of the device owner.
func (db *DB) GetOwnerTelegramIDByDeviceID(ctx context.Context, deviceID int64) (int64, error) {
	var telegramID int64
	err := db.Pool.QueryRow(ctx, `
		SELECT u.telegram_id FROM users u
		JOIN devices d ON d.user_id = u.id
		WHERE d.id = $1
	`, deviceID).Scan(&telegramID)
	return telegramID, err
}

// ── Transitions ──────────────────────────────────────────────────────

// MarkOnline commits an OFF/UNKNOWN→ON transition: device state, heartbeat
// timestamp and the history record land in one transaction so a crash can't
// leave the state without its event or vice versa.
func (db *DB) MarkOnline(ctx context.Context, deviceID int64, at time.Time) error {
	return db.applyTransition(ctx, deviceID, true, at, `
		UPDATE devices
		SET state = 'on', last_heartbeat_at = $2, last_status_change_at = $2
		WHERE id = $1
	`)
}

// MarkOffline commits an ON→OFF transition. The timestamp is the device's
// last heartbeat, not the checker's wall clock, so outage starts stay
// accurate regardless of sweep cadence.
func (db *DB) MarkOffline(ctx context.Context, deviceID int64, at time.Time) error {
	return db.applyTransition(ctx, deviceID, false, at, `
		UPDATE devices
		SET state = 'off', last_status_change_at = $2
		WHERE id = $1
	`)
}

func (db *DB) applyTransition(ctx context.Context, deviceID int64, isOnline bool, at time.Time, updateSQL string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, updateSQL, deviceID, at); err != nil {
		return fmt.Errorf("update device state: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO status_events (device_id, is_online, timestamp) VALUES ($1, $2, $3)
	`, deviceID, isOnline, at); err != nil {
		return fmt.Errorf("append status event: %w", err)
	}
	return tx.Commit(ctx)
}

// TouchHeartbeat refreshes last_heartbeat_at without touching state or history.
func (db *DB) TouchHeartbeat(ctx context.Context, deviceID int64, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices SET last_heartbeat_at = $2 WHERE id = $1
	`, deviceID, at)
	return err
}

// ── History queries ──────────────────────────────────────────────────

// EventsSince returns status events at or after from, oldest first.
// Same-instant pairs (an ON and its OFF stamped at the last heartbeat) are
// ordered by insertion, so the log always alternates.
func (db *DB) EventsSince(ctx context.Context, deviceID int64, from time.Time) ([]*models.StatusEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, is_online, timestamp
		FROM status_events
		WHERE device_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC, id ASC
	`, deviceID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LastEventBefore returns the most recent event strictly before the given time,
// or nil if there is none.
func (db *DB) LastEventBefore(ctx context.Context, deviceID int64, before time.Time) (*models.StatusEvent, error) {
	var e models.StatusEvent
	err := db.Pool.QueryRow(ctx, `
		SELECT id, device_id, is_online, timestamp
		FROM status_events
		WHERE device_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, deviceID, before).Scan(&e.ID, &e.DeviceID, &e.IsOnline, &e.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RecentEvents returns the latest status events, most recent first.
func (db *DB) RecentEvents(ctx context.Context, deviceID int64, limit int) ([]*models.StatusEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, is_online, timestamp
		FROM status_events
		WHERE device_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// AllEvents returns the complete transition log for a device, oldest first.
func (db *DB) AllEvents(ctx context.Context, deviceID int64) ([]*models.StatusEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, is_online, timestamp
		FROM status_events
		WHERE device_id = $1
		ORDER BY timestamp ASC, id ASC
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*models.StatusEvent, error) {
	var events []*models.StatusEvent
	for rows.Next() {
		var e models.StatusEvent
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.IsOnline, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// FormatDuration returns a human-readable Ukrainian duration string.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%d с", int(d.Seconds()))
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%d д %d год %d хв", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%d год %d хв", hours, minutes)
	}
	return fmt.Sprintf("%d хв", minutes)
}
