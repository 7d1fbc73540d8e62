package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"light-status-bot/internal/models"
)

// ErrUnknownToken is returned for a ping whose token matches no device.
var ErrUnknownToken = errors.New("unknown token")

// Store commits device state transitions durably. MarkOnline and MarkOffline
// must write the device row and the history record as one unit.
type Store interface {
	MarkOnline(ctx context.Context, deviceID int64, at time.Time) error
	MarkOffline(ctx context.Context, deviceID int64, at time.Time) error
	TouchHeartbeat(ctx context.Context, deviceID int64, at time.Time) error
}

// HeartbeatCache shares last-heartbeat times between server instances.
type HeartbeatCache interface {
	SetHeartbeat(ctx context.Context, deviceID int64, t time.Time) error
	GetHeartbeat(ctx context.Context, deviceID int64) (time.Time, error)
}

// StatsProvider computes the same-day stats snapshot attached to notifications.
type StatsProvider interface {
	Daily(ctx context.Context, deviceID int64, timezone string, state models.PowerState, asOf time.Time) (*models.DailyStats, error)
}

// Notifier delivers status-change messages. Delivery is best-effort and is
// only invoked after the transition has been committed.
type Notifier interface {
	NotifyStatusChange(deviceID, channelID int64, timezone string, isOnline bool, duration time.Duration, durationKnown bool, when time.Time, daily *models.DailyStats)
}

// deviceInfo is the in-memory representation used for fast ping lookups.
// Its mutex serializes the whole read-decide-commit sequence for one device;
// the checker and concurrent pings for the same device can't interleave.
type deviceInfo struct {
	ID         int64
	ChannelID  int64
	Timezone   string
	State      models.PowerState
	IsActive   bool      // whether offline detection is enabled
	LastSeen   time.Time // zero if no heartbeat ever accepted
	LastChange time.Time // zero if no transition ever happened
	mu         sync.Mutex
}

// Service handles heartbeat pings and offline detection.
type Service struct {
	devices   sync.Map // token (string) -> *deviceInfo
	store     Store
	cache     HeartbeatCache
	stats     StatsProvider
	notifier  Notifier
	threshold time.Duration
	now       func() time.Time
}

func NewService(store Store, cache HeartbeatCache, stats StatsProvider, notifier Notifier, thresholdSec int) *Service {
	return &Service{
		store:     store,
		cache:     cache,
		stats:     stats,
		notifier:  notifier,
		threshold: time.Duration(thresholdSec) * time.Second,
		now:       time.Now,
	}
}

// LoadDevices fills the in-memory map from durable device records.
func (s *Service) LoadDevices(devices []*models.Device) {
	for _, d := range devices {
		s.RegisterDevice(d)
	}
	log.Printf("[heartbeat] loaded %d devices into memory (offline threshold: %s)", len(devices), s.threshold)
}

// RegisterDevice adds a device to the in-memory map (called after DB insert).
func (s *Service) RegisterDevice(d *models.Device) {
	info := &deviceInfo{
		ID:        d.ID,
		ChannelID: d.ChannelID,
		Timezone:  d.Timezone,
		State:     d.State,
		IsActive:  d.IsActive,
	}
	if d.LastHeartbeatAt != nil {
		info.LastSeen = *d.LastHeartbeatAt
	}
	if d.LastStatusChangeAt != nil {
		info.LastChange = *d.LastStatusChangeAt
	}
	s.devices.Store(d.Token, info)
}

// UpsertDevice refreshes the in-memory record from a durable device row.
// An existing entry is mutated under its own mutex rather than replaced:
// a ping or sweep mid-transition holds that mutex, and swapping the pointer
// out from under it would let the stale state be committed twice. The
// in-memory state/heartbeat fields stay authoritative; only the management
// fields are taken from the row.
func (s *Service) UpsertDevice(d *models.Device) {
	val, ok := s.devices.Load(d.Token)
	if !ok {
		s.RegisterDevice(d)
		return
	}
	info := val.(*deviceInfo)
	info.mu.Lock()
	info.ChannelID = d.ChannelID
	info.Timezone = d.Timezone
	info.IsActive = d.IsActive
	info.mu.Unlock()
}

// RemoveDevice removes a device from the in-memory map.
// This should be called after deleting the device from the database.
func (s *Service) RemoveDevice(token string) {
	s.devices.Delete(token)
}

// SetDeviceActive updates the pause flag of a device in memory.
// Returns true if the device was found.
func (s *Service) SetDeviceActive(token string, isActive bool) bool {
	val, ok := s.devices.Load(token)
	if !ok {
		return false
	}
	info := val.(*deviceInfo)
	info.mu.Lock()
	info.IsActive = isActive
	info.mu.Unlock()
	return true
}

// UpdateToken re-keys the device after a key rotation or replacement.
// Returns true if the old token was found.
func (s *Service) UpdateToken(oldToken, newToken string) bool {
	val, ok := s.devices.LoadAndDelete(oldToken)
	if !ok {
		return false
	}
	s.devices.Store(newToken, val)
	return true
}

// UpdateTimezone updates the device timezone in memory.
// Returns true if the device was found.
func (s *Service) UpdateTimezone(token, tz string) bool {
	val, ok := s.devices.Load(token)
	if !ok {
		return false
	}
	info := val.(*deviceInfo)
	info.mu.Lock()
	info.Timezone = tz
	info.mu.Unlock()
	return true
}

// HandlePing processes a heartbeat ping for the given token.
//
// An unknown token returns ErrUnknownToken with no side effects. A known
// token always refreshes the last heartbeat time; if the device was not ON
// it transitions to ON, appends a history record in the same commit, and
// sends a "power restored" notification. Repeated pings while ON are
// idempotent. A storage failure aborts the call without touching the
// in-memory state, so the next ping retries the transition from scratch.
func (s *Service) HandlePing(ctx context.Context, token string) error {
	val, ok := s.devices.Load(token)
	if !ok {
		return ErrUnknownToken
	}
	info := val.(*deviceInfo)
	now := s.now()

	info.mu.Lock()
	if info.State == models.StateOn {
		// No transition: just refresh the heartbeat timestamp.
		if err := s.store.TouchHeartbeat(ctx, info.ID, now); err != nil {
			info.mu.Unlock()
			return fmt.Errorf("touch heartbeat for device %d: %w", info.ID, err)
		}
		info.LastSeen = now
		deviceID := info.ID
		info.mu.Unlock()
		s.cacheHeartbeat(ctx, deviceID, now)
		return nil
	}

	prevChange := info.LastChange
	if err := s.store.MarkOnline(ctx, info.ID, now); err != nil {
		info.mu.Unlock()
		return fmt.Errorf("mark device %d online: %w", info.ID, err)
	}
	info.State = models.StateOn
	info.LastSeen = now
	info.LastChange = now
	deviceID := info.ID
	channelID := info.ChannelID
	timezone := info.Timezone
	info.mu.Unlock()

	s.cacheHeartbeat(ctx, deviceID, now)
	log.Printf("[heartbeat] device %d is now ONLINE", deviceID)
	s.notify(ctx, deviceID, channelID, timezone, true, prevChange, now)
	return nil
}

// StartChecker runs a background loop that marks devices as offline
// when their heartbeats go stale. It stops when ctx is cancelled;
// an in-flight sweep finishes first.
func (s *Service) StartChecker(ctx context.Context, intervalSec int) {
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	log.Printf("[heartbeat] checker started (interval=%ds, threshold=%s)", intervalSec, s.threshold)

	for {
		select {
		case <-ctx.Done():
			log.Println("[heartbeat] checker stopped")
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

// checkAll sweeps every device once. A failure on one device is logged and
// the sweep continues; the device is re-evaluated on the next tick.
func (s *Service) checkAll(ctx context.Context) {
	now := s.now()

	s.devices.Range(func(_, value any) bool {
		info := value.(*deviceInfo)

		info.mu.Lock()
		// Skip paused devices, devices already offline, and devices that
		// have never pinged. None of these may be transitioned here.
		if !info.IsActive || info.State != models.StateOn || info.LastSeen.IsZero() {
			info.mu.Unlock()
			return true
		}
		deviceID := info.ID
		lastSeen := info.LastSeen
		info.mu.Unlock()

		// Another instance may have accepted a fresher ping; consult the
		// shared cache outside the lock (it's an I/O operation).
		if s.cache != nil {
			if t, err := s.cache.GetHeartbeat(ctx, deviceID); err == nil && t.After(lastSeen) {
				lastSeen = t
			}
		}

		if now.Sub(lastSeen) <= s.threshold {
			return true
		}

		info.mu.Lock()
		// Re-check under lock: a ping may have landed while we were in Redis.
		if info.State != models.StateOn {
			info.mu.Unlock()
			return true
		}
		if info.LastSeen.After(lastSeen) {
			lastSeen = info.LastSeen
		}
		if now.Sub(lastSeen) <= s.threshold {
			info.mu.Unlock()
			return true
		}

		// The outage started when the heartbeats stopped, so the transition
		// is stamped with the last heartbeat time rather than the sweep time.
		prevChange := info.LastChange
		if err := s.store.MarkOffline(ctx, deviceID, lastSeen); err != nil {
			info.mu.Unlock()
			log.Printf("[heartbeat] failed to mark device %d offline: %v", deviceID, err)
			return true
		}
		info.State = models.StateOff
		info.LastChange = lastSeen
		channelID := info.ChannelID
		timezone := info.Timezone
		info.mu.Unlock()

		log.Printf("[heartbeat] device %d is now OFFLINE (last ping %s ago)", deviceID, now.Sub(lastSeen))
		s.notify(ctx, deviceID, channelID, timezone, false, prevChange, lastSeen)
		return true
	})
}

// cacheHeartbeat records the heartbeat in the shared cache, best-effort.
func (s *Service) cacheHeartbeat(ctx context.Context, deviceID int64, at time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetHeartbeat(ctx, deviceID, at); err != nil {
		log.Printf("[heartbeat] redis set error for device %d: %v", deviceID, err)
	}
}

// notify sends the status-change event for an already-committed transition.
// when is the transition timestamp; the elapsed time covers the previous
// state period, unknown when there was no prior transition.
func (s *Service) notify(ctx context.Context, deviceID, channelID int64, timezone string, isOnline bool, prevChange, when time.Time) {
	if s.notifier == nil || channelID == 0 {
		return
	}

	var duration time.Duration
	durationKnown := !prevChange.IsZero()
	if durationKnown {
		duration = when.Sub(prevChange)
	}

	var daily *models.DailyStats
	if s.stats != nil {
		state := models.StateOff
		if isOnline {
			state = models.StateOn
		}
		st, err := s.stats.Daily(ctx, deviceID, timezone, state, s.now())
		if err != nil {
			log.Printf("[heartbeat] stats for device %d: %v", deviceID, err)
		} else {
			daily = st
		}
	}

	s.notifier.NotifyStatusChange(deviceID, channelID, timezone, isOnline, duration, durationKnown, when, daily)
}
