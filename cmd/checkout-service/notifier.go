package main

import (
	"context"

	"github.com/snowline/renewal-checkout/internal/checkout"
	"github.com/snowline/renewal-checkout/internal/events"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/websocket"
)

// feedNotifier sends checkout events to the staff feed and the office relay.
type feedNotifier struct {
	hub    *websocket.Hub
	office *events.Publisher
}

func (n feedNotifier) Notify(ctx context.Context, ev checkout.Event) {
	if err := n.hub.BroadcastEvent(websocket.TypeCheckout, ev.Name, ev); err != nil {
		logger.FromContext(ctx).Warn("feed broadcast failed", "event", ev.Name, "error", err)
	}
	n.office.PublishAsync(events.TypeCheckout, ev.Name, ev)
}
