package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"light-status-bot/internal/models"
)

type storeCall struct {
	op       string // "online", "offline", "touch"
	deviceID int64
	at       time.Time
}

type fakeStore struct {
	mu    sync.Mutex
	calls []storeCall
	fail  map[int64]error // per-device injected failure
}

func (f *fakeStore) record(op string, deviceID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[deviceID]; err != nil {
		return err
	}
	f.calls = append(f.calls, storeCall{op: op, deviceID: deviceID, at: at})
	return nil
}

func (f *fakeStore) MarkOnline(_ context.Context, deviceID int64, at time.Time) error {
	return f.record("online", deviceID, at)
}

func (f *fakeStore) MarkOffline(_ context.Context, deviceID int64, at time.Time) error {
	return f.record("offline", deviceID, at)
}

func (f *fakeStore) TouchHeartbeat(_ context.Context, deviceID int64, at time.Time) error {
	return f.record("touch", deviceID, at)
}

func (f *fakeStore) callsFor(deviceID int64) []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storeCall
	for _, c := range f.calls {
		if c.deviceID == deviceID {
			out = append(out, c)
		}
	}
	return out
}

type notification struct {
	deviceID      int64
	timezone      string
	isOnline      bool
	duration      time.Duration
	durationKnown bool
	when          time.Time
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) NotifyStatusChange(deviceID, _ int64, timezone string, isOnline bool, duration time.Duration, durationKnown bool, when time.Time, _ *models.DailyStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{
		deviceID:      deviceID,
		timezone:      timezone,
		isOnline:      isOnline,
		duration:      duration,
		durationKnown: durationKnown,
		when:          when,
	})
}

func (f *fakeNotifier) all() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.sent...)
}

type fakeCache struct {
	beats map[int64]time.Time
}

func (f *fakeCache) SetHeartbeat(_ context.Context, deviceID int64, t time.Time) error {
	if f.beats == nil {
		f.beats = map[int64]time.Time{}
	}
	f.beats[deviceID] = t
	return nil
}

func (f *fakeCache) GetHeartbeat(_ context.Context, deviceID int64) (time.Time, error) {
	t, ok := f.beats[deviceID]
	if !ok {
		return time.Time{}, errors.New("no heartbeat")
	}
	return t, nil
}

func newTestService(store *fakeStore, notifier *fakeNotifier, at time.Time) *Service {
	svc := NewService(store, nil, nil, notifier, 300)
	svc.now = func() time.Time { return at }
	return svc
}

func testDevice(id int64, token string, state models.PowerState) *models.Device {
	return &models.Device{
		ID:        id,
		ChannelID: id * 100,
		Token:     token,
		Timezone:  "Europe/Kyiv",
		State:     state,
		IsActive:  true,
	}
}

func TestHandlePingUnknownToken(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, &fakeNotifier{}, time.Now())

	err := svc.HandlePing(context.Background(), "no-such-token")
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("unknown token must have no side effects, got %d store calls", len(store.calls))
	}
}

func TestHandlePingFirstHeartbeat(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier, now)
	svc.RegisterDevice(testDevice(1, "tok-1", models.StateUnknown))

	if err := svc.HandlePing(context.Background(), "tok-1"); err != nil {
		t.Fatalf("HandlePing: %v", err)
	}

	calls := store.callsFor(1)
	if len(calls) != 1 || calls[0].op != "online" || !calls[0].at.Equal(now) {
		t.Fatalf("calls = %+v, want one MarkOnline at %v", calls, now)
	}

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	n := sent[0]
	if !n.isOnline || !n.when.Equal(now) {
		t.Errorf("notification = %+v, want online at %v", n, now)
	}
	if n.durationKnown {
		t.Errorf("first transition has no prior period, duration must be unknown")
	}
}

func TestHandlePingWhileOnlineIsIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier, now)
	svc.RegisterDevice(testDevice(1, "tok-1", models.StateOn))

	for i := 0; i < 3; i++ {
		if err := svc.HandlePing(context.Background(), "tok-1"); err != nil {
			t.Fatalf("HandlePing #%d: %v", i, err)
		}
	}

	for _, c := range store.callsFor(1) {
		if c.op != "touch" {
			t.Errorf("repeated ping while ON made a %q call, want touch only", c.op)
		}
	}
	if len(notifier.all()) != 0 {
		t.Errorf("repeated pings must not notify")
	}
}

func TestHandlePingRecoveryDuration(t *testing.T) {
	outageStart := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	now := outageStart.Add(42 * time.Minute)
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier, now)

	d := testDevice(1, "tok-1", models.StateOff)
	d.LastStatusChangeAt = &outageStart
	svc.RegisterDevice(d)

	if err := svc.HandlePing(context.Background(), "tok-1"); err != nil {
		t.Fatalf("HandlePing: %v", err)
	}

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	n := sent[0]
	if !n.isOnline || !n.durationKnown || n.duration != 42*time.Minute {
		t.Errorf("notification = %+v, want online after 42m outage", n)
	}
}

func TestHandlePingStorageFailureLeavesStateUntouched(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{fail: map[int64]error{1: errors.New("db down")}}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier, now)
	svc.RegisterDevice(testDevice(1, "tok-1", models.StateUnknown))

	if err := svc.HandlePing(context.Background(), "tok-1"); err == nil {
		t.Fatal("expected error from failing store")
	}
	if len(notifier.all()) != 0 {
		t.Errorf("failed transition must not notify")
	}

	// Storage recovers: the next ping retries the transition from scratch.
	store.mu.Lock()
	delete(store.fail, 1)
	store.mu.Unlock()

	if err := svc.HandlePing(context.Background(), "tok-1"); err != nil {
		t.Fatalf("HandlePing after recovery: %v", err)
	}
	calls := store.callsFor(1)
	if len(calls) != 1 || calls[0].op != "online" {
		t.Errorf("calls = %+v, want one MarkOnline after recovery", calls)
	}
}

func TestCheckAllMarksStaleDeviceOffline(t *testing.T) {
	lastSeen := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := lastSeen.Add(6 * time.Minute) // threshold is 5 minutes
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier, now)

	d := testDevice(1, "tok-1", models.StateOn)
	d.LastHeartbeatAt = &lastSeen
	d.LastStatusChangeAt = &lastSeen
	svc.RegisterDevice(d)

	svc.checkAll(context.Background())

	calls := store.callsFor(1)
	if len(calls) != 1 || calls[0].op != "offline" {
		t.Fatalf("calls = %+v, want one MarkOffline", calls)
	}
	// The outage is stamped with the last heartbeat, not the sweep time.
	if !calls[0].at.Equal(lastSeen) {
		t.Errorf("offline at %v, want last heartbeat %v", calls[0].at, lastSeen)
	}

	sent := notifier.all()
	if len(sent) != 1 || sent[0].isOnline || !sent[0].when.Equal(lastSeen) {
		t.Errorf("notifications = %+v, want one offline at %v", sent, lastSeen)
	}
}

func TestCheckAllSkipsIneligibleDevices(t *testing.T) {
	stale := time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)
	now := stale.Add(time.Hour)
	store := &fakeStore{}
	svc := newTestService(store, &fakeNotifier{}, now)

	paused := testDevice(1, "tok-paused", models.StateOn)
	paused.LastHeartbeatAt = &stale
	paused.IsActive = false
	svc.RegisterDevice(paused)

	alreadyOff := testDevice(2, "tok-off", models.StateOff)
	alreadyOff.LastHeartbeatAt = &stale
	svc.RegisterDevice(alreadyOff)

	neverSeen := testDevice(3, "tok-new", models.StateUnknown)
	svc.RegisterDevice(neverSeen)

	fresh := testDevice(4, "tok-fresh", models.StateOn)
	freshSeen := now.Add(-time.Minute)
	fresh.LastHeartbeatAt = &freshSeen
	svc.RegisterDevice(fresh)

	svc.checkAll(context.Background())

	if len(store.calls) != 0 {
		t.Errorf("no device was eligible, got store calls %+v", store.calls)
	}
}

func TestCheckAllIsolatesStorageFailures(t *testing.T) {
	stale := time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)
	now := stale.Add(time.Hour)
	store := &fakeStore{fail: map[int64]error{1: errors.New("db down")}}
	svc := newTestService(store, &fakeNotifier{}, now)

	for _, d := range []*models.Device{
		testDevice(1, "tok-1", models.StateOn),
		testDevice(2, "tok-2", models.StateOn),
	} {
		seen := stale
		d.LastHeartbeatAt = &seen
		svc.RegisterDevice(d)
	}

	svc.checkAll(context.Background())

	if calls := store.callsFor(2); len(calls) != 1 || calls[0].op != "offline" {
		t.Errorf("healthy device calls = %+v, want one MarkOffline despite the other failing", calls)
	}

	// The failed device stays ON and is retried on the next sweep.
	store.mu.Lock()
	delete(store.fail, 1)
	store.mu.Unlock()
	svc.checkAll(context.Background())

	if calls := store.callsFor(1); len(calls) != 1 || calls[0].op != "offline" {
		t.Errorf("retried device calls = %+v, want one MarkOffline", calls)
	}
}

func TestCheckAllTrustsFresherCachedHeartbeat(t *testing.T) {
	stale := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := stale.Add(10 * time.Minute)
	store := &fakeStore{}
	cache := &fakeCache{}
	svc := NewService(store, cache, nil, nil, 300)
	svc.now = func() time.Time { return now }

	d := testDevice(1, "tok-1", models.StateOn)
	d.LastHeartbeatAt = &stale
	svc.RegisterDevice(d)

	// Another instance accepted a ping two minutes ago.
	cache.SetHeartbeat(context.Background(), 1, now.Add(-2*time.Minute))

	svc.checkAll(context.Background())

	if len(store.calls) != 0 {
		t.Errorf("device with fresh cached heartbeat must stay ON, got %+v", store.calls)
	}
}

func TestStatesAlternate(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	now := base
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier, now)
	svc.now = func() time.Time { return now }
	svc.RegisterDevice(testDevice(1, "tok-1", models.StateUnknown))

	ctx := context.Background()

	// ping → ON, heartbeat, silence → OFF, ping → ON.
	if err := svc.HandlePing(ctx, "tok-1"); err != nil {
		t.Fatalf("ping 1: %v", err)
	}
	now = base.Add(10 * time.Minute)
	if err := svc.HandlePing(ctx, "tok-1"); err != nil {
		t.Fatalf("ping 2: %v", err)
	}
	now = base.Add(20 * time.Minute)
	svc.checkAll(ctx)
	now = base.Add(30 * time.Minute)
	if err := svc.HandlePing(ctx, "tok-1"); err != nil {
		t.Fatalf("ping 3: %v", err)
	}

	var transitions []storeCall
	for _, c := range store.callsFor(1) {
		if c.op != "touch" {
			transitions = append(transitions, c)
		}
	}

	want := []string{"online", "offline", "online"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %+v, want ops %v", transitions, want)
	}
	for i, c := range transitions {
		if c.op != want[i] {
			t.Errorf("transition %d op = %q, want %q", i, c.op, want[i])
		}
	}
	// Transition timestamps are strictly increasing; the offline transition is
	// stamped at the last heartbeat (10 minutes in), not the sweep time.
	for i := 1; i < len(transitions); i++ {
		if !transitions[i].at.After(transitions[i-1].at) {
			t.Errorf("transition %d at %v is not after %v", i, transitions[i].at, transitions[i-1].at)
		}
	}
	if off := transitions[1]; !off.at.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("offline stamped at %v, want %v", off.at, base.Add(10*time.Minute))
	}
}

// A sync refresh arriving between a device's transition and a later sweep
// must not resurrect the durable row's stale state: the in-memory record is
// authoritative and only the management fields follow the row.
func TestUpsertDevicePreservesInMemoryState(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	now := base
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier, now)
	svc.now = func() time.Time { return now }

	d := testDevice(1, "tok-1", models.StateUnknown)
	svc.RegisterDevice(d)

	ctx := context.Background()
	if err := svc.HandlePing(ctx, "tok-1"); err != nil {
		t.Fatalf("ping: %v", err)
	}

	// The durable row still says "unknown" plus a new timezone.
	stale := testDevice(1, "tok-1", models.StateUnknown)
	stale.Timezone = "Europe/Warsaw"
	svc.UpsertDevice(stale)

	now = base.Add(time.Minute)
	if err := svc.HandlePing(ctx, "tok-1"); err != nil {
		t.Fatalf("ping after upsert: %v", err)
	}

	calls := store.callsFor(1)
	if len(calls) != 2 || calls[0].op != "online" || calls[1].op != "touch" {
		t.Fatalf("calls = %+v, want [online touch]: the refreshed record must stay ON", calls)
	}

	// Management fields do follow the row: the sweep uses the new timezone.
	now = base.Add(20 * time.Minute)
	svc.checkAll(ctx)
	sent := notifier.all()
	if len(sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sent))
	}
	if sent[1].isOnline {
		t.Errorf("second notification = %+v, want offline", sent[1])
	}
	if sent[1].timezone != "Europe/Warsaw" {
		t.Errorf("notification timezone = %q, want the refreshed Europe/Warsaw", sent[1].timezone)
	}
}

func TestUpdateTokenKeepsDeviceState(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	svc := newTestService(store, &fakeNotifier{}, now)
	svc.RegisterDevice(testDevice(1, "old-token", models.StateOn))

	if !svc.UpdateToken("old-token", "new-token") {
		t.Fatal("UpdateToken reported device not found")
	}
	if err := svc.HandlePing(context.Background(), "old-token"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("old token still accepted after rotation")
	}
	if err := svc.HandlePing(context.Background(), "new-token"); err != nil {
		t.Errorf("new token rejected: %v", err)
	}
}
