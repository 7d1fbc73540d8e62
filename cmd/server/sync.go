package main

import (
	"context"
	"encoding/json"
	"log"

	"light-status-bot/internal/cache"
	"light-status-bot/internal/database"
	"light-status-bot/internal/heartbeat"
	"light-status-bot/internal/mq"
)

// syncListener applies device management changes made through the bot to the
// in-memory device table, so creates, key changes, pauses and deletes take
// effect without a restart.
type syncListener struct {
	db       *database.DB
	svc      *heartbeat.Service
	cache    *cache.Cache
	consumer *mq.Consumer
}

func newSyncListener(db *database.DB, svc *heartbeat.Service, c *cache.Cache, consumer *mq.Consumer) *syncListener {
	return &syncListener{db: db, svc: svc, cache: c, consumer: consumer}
}

func (l *syncListener) start(ctx context.Context) {
	deliveries, err := l.consumer.Consume(mq.QueueDeviceSync)
	if err != nil {
		log.Fatalf("[sync] failed to consume %s: %v", mq.QueueDeviceSync, err)
	}
	log.Println("[sync] consuming device sync messages")

	for {
		select {
		case <-ctx.Done():
			log.Println("[sync] stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			l.handle(ctx, d.Body)
			d.Ack(false)
		}
	}
}

func (l *syncListener) handle(ctx context.Context, payload []byte) {
	var msg mq.DeviceSyncMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[sync] bad device sync message: %v", err)
		return
	}

	switch msg.Action {
	case mq.DeviceSyncDelete:
		l.svc.RemoveDevice(msg.Token)
		if err := l.cache.DeleteHeartbeat(ctx, msg.DeviceID); err != nil {
			log.Printf("[sync] failed to drop cached heartbeat for device %d: %v", msg.DeviceID, err)
		}
		log.Printf("[sync] device %d removed", msg.DeviceID)

	case mq.DeviceSyncUpsert:
		device, err := l.db.GetDeviceByID(ctx, msg.DeviceID)
		if err != nil {
			log.Printf("[sync] failed to load device %d: %v", msg.DeviceID, err)
			return
		}
		if msg.OldToken != "" {
			// Key change: re-key the existing record so an in-flight
			// transition keeps operating on the same entry.
			l.svc.UpdateToken(msg.OldToken, device.Token)
		}
		l.svc.UpsertDevice(device)
		log.Printf("[sync] device %d refreshed", msg.DeviceID)

	default:
		log.Printf("[sync] unknown action %q for device %d", msg.Action, msg.DeviceID)
	}
}
