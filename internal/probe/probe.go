package probe

import (
	"context"
	"log"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"light-status-bot/internal/heartbeat"
	"light-status-bot/internal/models"
)

const (
	pingCount   = 3
	pingTimeout = 5 * time.Second
)

// DeviceSource lists the devices eligible for active probing.
// *database.DB implements it.
type DeviceSource interface {
	GetAllDevices(ctx context.Context) ([]*models.Device, error)
}

// Prober actively pings devices that have a ping target configured and feeds
// successful probes into the heartbeat pipeline, so probed devices follow the
// same state machine as devices that call the HTTP endpoint themselves.
type Prober struct {
	db        DeviceSource
	svc       *heartbeat.Service
	reachable func(target string) bool
}

func New(db DeviceSource, svc *heartbeat.Service) *Prober {
	return &Prober{db: db, svc: svc, reachable: icmpReachable}
}

// Start runs probe rounds on a fixed interval until ctx is cancelled.
func (p *Prober) Start(ctx context.Context, intervalSec int) {
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	log.Printf("[probe] prober started (interval=%ds)", intervalSec)

	for {
		select {
		case <-ctx.Done():
			log.Println("[probe] prober stopped")
			return
		case <-ticker.C:
			p.runRound(ctx)
		}
	}
}

func (p *Prober) runRound(ctx context.Context) {
	devices, err := p.db.GetAllDevices(ctx)
	if err != nil {
		log.Printf("[probe] failed to list devices: %v", err)
		return
	}

	for _, d := range devices {
		if d.PingTarget == "" || !d.IsActive {
			continue
		}
		if !p.reachable(d.PingTarget) {
			continue
		}
		if err := p.svc.HandlePing(ctx, d.Token); err != nil {
			log.Printf("[probe] device %d ping accept failed: %v", d.ID, err)
		}
	}
}

// icmpReachable sends ICMP pings to the target and reports whether at least
// one reply came back within the timeout.
func icmpReachable(target string) bool {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		log.Printf("[probe] failed to create pinger for %s: %v", target, err)
		return false
	}
	pinger.Count = pingCount
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
