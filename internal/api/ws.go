package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/deploywatch/deploywatch/internal/models"
)

// Event is one push notification to connected observers.
type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

const (
	EventDeploymentStarted = "deployment_started"
	EventDeploymentUpdated = "deployment_updated"
	EventAnomalyDetected   = "anomaly_detected"
	EventIncidentTriggered = "incident_triggered"
)

// clientBuffer bounds the per-client queue; a slow consumer drops events
// rather than blocking the tracker's mutation path.
const clientBuffer = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub is a best-effort broadcast sink for tracker events. Implements
// tracker.Sink: every push is non-blocking with no acknowledgment or retry.
type Hub struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[chan Event]struct{}
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[chan Event]struct{})}
}

// DeploymentStarted broadcasts a new-deployment event.
func (h *Hub) DeploymentStarted(dep models.Deployment) {
	h.broadcast(Event{Type: EventDeploymentStarted, At: time.Now().UTC(), Payload: dep})
}

// DeploymentUpdated broadcasts a deployment-update event.
func (h *Hub) DeploymentUpdated(dep models.Deployment) {
	h.broadcast(Event{Type: EventDeploymentUpdated, At: time.Now().UTC(), Payload: dep})
}

// AnomalyDetected broadcasts an anomaly event.
func (h *Hub) AnomalyDetected(dep models.Deployment, anomaly models.Anomaly) {
	h.broadcast(Event{Type: EventAnomalyDetected, At: time.Now().UTC(), Payload: gin.H{
		"deployment_id": dep.ID,
		"anomaly":       anomaly,
	}})
}

// IncidentTriggered broadcasts an incident event.
func (h *Hub) IncidentTriggered(incident models.Incident) {
	h.broadcast(Event{Type: EventIncidentTriggered, At: time.Now().UTC(), Payload: incident})
}

func (h *Hub) broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- event:
		default:
			// Slow consumer; drop rather than block.
		}
	}
}

func (h *Hub) register() chan Event {
	client := make(chan Event, clientBuffer)
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *Hub) unregister(client chan Event) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// Handle upgrades the request to a websocket and streams events until the
// client disconnects.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	client := h.register()
	defer h.unregister(client)

	// Reader goroutine: detect disconnects, discard inbound frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event := <-client:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
