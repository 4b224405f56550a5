package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	"github.com/Prison3/prison/internal/shared/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs browser origins
	},
}

// Watcher is the registry surface a stream subscribes to
type Watcher interface {
	Watch(profileID int) (<-chan types.Snapshot, func())
	WatchResults(op types.Operation, profileID int) (<-chan types.Result, func())
	Snapshot(profileID int) (types.Snapshot, bool)
	RefreshAsync(ctx context.Context, profileID int) <-chan types.Snapshot
}

// Message is a client request
type Message struct {
	Type string `json:"type"`
}

// Handler streams profile snapshots over WebSocket
type Handler struct {
	watcher Watcher
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(watcher Watcher, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		watcher: watcher,
		metrics: metrics,
		logger:  logging.OrNop(logger).Named("ws"),
	}
}

// HandleConnection upgrades the request and streams every snapshot published
// for the profile, plus lifecycle results, until the client goes away
func (h *Handler) HandleConnection(c *gin.Context) {
	profileID, err := strconv.Atoi(c.Param("id"))
	if err != nil || profileID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	snapshots, cancelSnapshots := h.watcher.Watch(profileID)
	defer cancelSnapshots()
	results, cancelResults := h.results(profileID)
	defer cancelResults()

	ctx := context.WithoutCancel(c.Request.Context())
	if _, ok := h.watcher.Snapshot(profileID); !ok {
		h.watcher.RefreshAsync(ctx, profileID)
	}

	if err := h.send(conn, gin.H{"type": "connected", "profile_id": profileID}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	requests := h.readLoop(conn, done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := h.send(conn, gin.H{"type": "snapshot", "profile_id": profileID, "snapshot": snap}); err != nil {
				return
			}
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := h.send(conn, gin.H{"type": "result", "profile_id": profileID, "result": res}); err != nil {
				return
			}
		case msg, ok := <-requests:
			if !ok {
				return
			}
			if err := h.handle(ctx, conn, profileID, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handle(ctx context.Context, conn *websocket.Conn, profileID int, msg Message) error {
	switch msg.Type {
	case "ping":
		return h.send(conn, gin.H{"type": "pong"})
	case "refresh":
		// the new snapshot arrives through the subscription
		h.watcher.RefreshAsync(ctx, profileID)
		return nil
	default:
		return h.sendError(conn, "unknown message type")
	}
}

// results merges the lifecycle results of one profile into a single channel
func (h *Handler) results(profileID int) (<-chan types.Result, func()) {
	ops := []types.Operation{types.OpInstall, types.OpUninstall, types.OpClearData, types.OpReorder, types.OpLabel}

	out := make(chan types.Result, len(ops))
	done := make(chan struct{})
	cancels := make([]func(), 0, len(ops))

	for _, op := range ops {
		ch, cancel := h.watcher.WatchResults(op, profileID)
		cancels = append(cancels, cancel)
		// drop the value published before this connection existed
		select {
		case <-ch:
		default:
		}
		go func() {
			for {
				select {
				case res, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- res:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}()
	}

	return out, func() {
		close(done)
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// readLoop forwards client messages until the connection fails
func (h *Handler) readLoop(conn *websocket.Conn, done <-chan struct{}) <-chan Message {
	out := make(chan Message)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(out)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket read error", zap.Error(err))
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			select {
			case out <- msg:
			case <-done:
				return
			}
		}
	}()
	return out
}

func (h *Handler) send(conn *websocket.Conn, data any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(data)
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) error {
	return h.send(conn, gin.H{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}
