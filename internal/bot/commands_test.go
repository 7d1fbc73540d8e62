package bot

import (
	"strings"
	"testing"
	"time"

	"light-status-bot/internal/models"
)

func TestDeviceStatusText(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	seen := now.Add(-2 * time.Minute)
	changed := now.Add(-3 * time.Hour)

	t.Run("no data", func(t *testing.T) {
		d := &models.Device{State: models.StateUnknown, IsActive: true}
		if got := deviceStatusText(d, now); got != msgStatusNoData {
			t.Errorf("got %q, want the no-data message", got)
		}
	})

	t.Run("online", func(t *testing.T) {
		d := &models.Device{State: models.StateOn, IsActive: true, LastHeartbeatAt: &seen, LastStatusChangeAt: &changed}
		got := deviceStatusText(d, now)
		if !strings.Contains(got, "🟢") {
			t.Errorf("missing online marker: %q", got)
		}
		if !strings.Contains(got, "2 хв") || !strings.Contains(got, "3 год 0 хв") {
			t.Errorf("missing last-ping / last-change ages: %q", got)
		}
		if strings.Contains(got, msgStatusPausedTag) {
			t.Errorf("active device must not carry the paused tag: %q", got)
		}
	})

	t.Run("offline and paused", func(t *testing.T) {
		d := &models.Device{State: models.StateOff, IsActive: false, LastHeartbeatAt: &seen}
		got := deviceStatusText(d, now)
		if !strings.Contains(got, "🔴") {
			t.Errorf("missing offline marker: %q", got)
		}
		if !strings.Contains(got, msgStatusPausedTag) {
			t.Errorf("paused device must carry the paused tag: %q", got)
		}
	})
}
