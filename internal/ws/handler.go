package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"project-chat-service/internal/auth"
	"project-chat-service/internal/models"
	"project-chat-service/internal/observability"
	"project-chat-service/internal/repositories"
	"project-chat-service/internal/room"
)

// Handler upgrades chat websocket connections and runs their sessions.
type Handler struct {
	registry   *room.Registry
	projects   repositories.ProjectRepository
	verifier   auth.TokenVerifier
	bufferSize int
}

// NewHandler constructs a Handler.
func NewHandler(registry *room.Registry, projects repositories.ProjectRepository, verifier auth.TokenVerifier, bufferSize int) *Handler {
	return &Handler{registry: registry, projects: projects, verifier: verifier, bufferSize: bufferSize}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the connection, upgrades it and starts the
// session pumps. A bad credential is fatal: the connection is refused
// before it can touch any room state.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("project-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	identity, err := h.verifyToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	headers := observability.BuildHeaders(requestID, traceID)

	session := newSession(conn, identity, h.registry, h.projects, h.bufferSize, info)

	observability.IncWSActive("project")
	observability.IncWSEvent("project", "ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.projects", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsEventPayload(info, "ws_connect", ""),
	}, headers)

	go session.writeLoop()
	go func() {
		closeReason := session.readLoop()

		if !isExpectedClose(closeReason) {
			observability.IncWSEvent("project", "ws_error")
			_ = observability.PublishEvent(ctx, "ws_events.projects", observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_error",
				Payload:   wsEventPayload(info, "ws_error", closeReason),
			}, headers)
		}

		observability.DecWSActive("project")
		observability.IncWSEvent("project", "ws_disconnect")
		_ = observability.PublishEvent(ctx, "ws_events.projects", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload:   wsEventPayload(info, "ws_disconnect", closeReason),
		}, headers)
	}()
}

func (h *Handler) verifyToken(ctx context.Context, header string) (models.Identity, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.verifier.Verify(ctx, parts[1])
	}
	return models.Identity{}, fmt.Errorf("invalid token")
}

func isExpectedClose(reason string) bool {
	return reason == "" ||
		strings.Contains(reason, "close 1000") ||
		strings.Contains(reason, "close 1001")
}

func wsEventPayload(info ConnInfo, event, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "project",
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
