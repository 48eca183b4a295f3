package http

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"artifact-semantics/internal/shared/eventbus"
	"artifact-semantics/internal/shared/logger"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ReloadEventHandler pushes a message to every connected websocket client
// whenever a rule reload completes. Components that cannot hold the loader
// in-process subscribe here instead of polling.
type ReloadEventHandler struct {
	bus *eventbus.EventBus
	log logger.Logger

	mu      sync.Mutex
	clients map[string]chan []byte
}

// reloadMessage is the wire form pushed on each completed reload.
type reloadMessage struct {
	Event       string      `json:"event"`
	RulesLoaded interface{} `json:"rules_loaded,omitempty"`
	Conflicts   interface{} `json:"conflicts,omitempty"`
	At          time.Time   `json:"at"`
}

// NewReloadEventHandler subscribes to the bus and fans reload events out to
// websocket clients.
func NewReloadEventHandler(bus *eventbus.EventBus, log logger.Logger) *ReloadEventHandler {
	h := &ReloadEventHandler{
		bus:     bus,
		log:     log.WithComponent("rules_ws"),
		clients: make(map[string]chan []byte),
	}
	bus.Subscribe(eventbus.EventTypeRulesReloaded, h.onReload)
	return h
}

// RegisterRoutes mounts the websocket endpoint.
func (h *ReloadEventHandler) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/v1/rules/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/v1/rules/events", websocket.New(h.handleConnection))
}

// onReload renders the event once and enqueues it to every client. Slow
// clients drop messages rather than blocking the bus.
func (h *ReloadEventHandler) onReload(ctx context.Context, event eventbus.Event) error {
	msg := reloadMessage{Event: event.Type(), At: event.Timestamp()}
	if data, ok := event.Data().(map[string]interface{}); ok {
		msg.RulesLoaded = data["rules_loaded"]
		msg.Conflicts = data["conflicts"]
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			h.log.Warnf("dropping reload event for slow websocket client %s", id)
		}
	}
	return nil
}

func (h *ReloadEventHandler) handleConnection(conn *websocket.Conn) {
	clientID := uuid.NewString()
	events := make(chan []byte, 8)

	h.mu.Lock()
	h.clients[clientID] = events
	h.mu.Unlock()

	h.log.Infof("websocket client %s subscribed to rule events", clientID)

	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
		_ = conn.Close()
		h.log.Infof("websocket client %s disconnected", clientID)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// Reads only notice disconnects; clients do not send commands.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload := <-events:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
