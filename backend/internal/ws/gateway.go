package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabdoc/backend/internal/collab"
	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/httpapi/middleware"
	"collabdoc/backend/internal/lock"
)

// Authorizer is the permission check run before the upgrade.
type Authorizer interface {
	Authorize(ctx context.Context, docID string, actor lock.Actor, action lock.Action) (*entity.Document, error)
}

type GatewayOptions struct {
	// AllowedOrigins are Origin prefixes; empty or "*" accepts any origin.
	AllowedOrigins []string
	SendQueue      int
}

// Gateway binds WebSocket connections to document rooms.
type Gateway struct {
	rooms    *collab.Registry
	auth     Authorizer
	upgrader websocket.Upgrader
	queue    int
	logger   zerolog.Logger
}

func NewGateway(rooms *collab.Registry, auth Authorizer, opt GatewayOptions, logger zerolog.Logger) *Gateway {
	return &Gateway{
		rooms: rooms,
		auth:  auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(opt.AllowedOrigins),
		},
		queue:  opt.SendQueue,
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" || len(allowed) == 0 {
			return true
		}
		for _, p := range allowed {
			if p == "*" || strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}
}

// Connect handles GET /collab/:documentId. It must run after AuthMiddleware.
func (g *Gateway) Connect(c *gin.Context) {
	docID := c.Param("documentId")
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if g.auth != nil {
		if _, err := g.auth.Authorize(c.Request.Context(), docID, actor, lock.ActionView); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, lock.ErrDocumentNotFound):
				status = http.StatusNotFound
			case errors.Is(err, lock.ErrForbidden):
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
	}

	wsConn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("origin", c.Request.Header.Get("Origin")).Msg("websocket upgrade failed")
		return
	}

	room := g.rooms.GetOrCreate(c.Request.Context(), docID)
	logger := g.logger.With().Str("doc", docID).Str("user", actor.UserID).Logger()
	conn := NewConn(wsConn, room, collab.Origin{UserID: actor.UserID, UserName: actor.UserName}, g.queue, logger)

	go conn.writeLoop()
	if !room.Join(conn) {
		return
	}
	logger.Debug().Msg("bound")

	conn.readLoop()
	room.Leave(conn)
	conn.Close()
	logger.Debug().Msg("closed")
}
