package main

import (
	"context"
	"encoding/json"
	"log"

	"light-status-bot/internal/bot"
	"light-status-bot/internal/mq"
)

// listener consumes status-change messages from RabbitMQ and hands them to
// the channel notifier.
type listener struct {
	consumer *mq.Consumer
	notifier *bot.ChannelNotifier
}

func newListener(consumer *mq.Consumer, notifier *bot.ChannelNotifier) *listener {
	return &listener{consumer: consumer, notifier: notifier}
}

func (l *listener) start(ctx context.Context) {
	deliveries, err := l.consumer.Consume(mq.QueueStatusChange)
	if err != nil {
		log.Fatalf("[listener] failed to consume %s: %v", mq.QueueStatusChange, err)
	}
	log.Println("[listener] consuming status change messages")

	for {
		select {
		case <-ctx.Done():
			log.Println("[listener] stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			l.handleStatusChange(d.Body)
			d.Ack(false)
		}
	}
}

func (l *listener) handleStatusChange(payload []byte) {
	var msg mq.StatusChangeMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[listener] bad status change message: %v", err)
		return
	}
	l.notifier.HandleStatusChange(msg)
}
