package rendezvous

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
	"meshcall/native/internal/signal"
)

// RouterConfig configures the relay's HTTP surface.
type RouterConfig struct {
	ICEServers []domain.ICEServer
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
	Release        bool
}

// NewRouter wires the health, ICE, room and websocket endpoints.
func NewRouter(hub *Hub, cfg RouterConfig, logger zerolog.Logger) *gin.Engine {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	log := logger.With().Str("module", "http").Logger()

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(OriginFilter(cfg.AllowedOrigins))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = domain.DefaultICEServers()
	}
	api := router.Group("/api")
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
	})
	api.GET("/rooms/:roomId", func(c *gin.Context) {
		roomID := c.Param("roomId")
		count, err := hub.RoomCount(c.Request.Context(), roomID)
		if err != nil {
			log.Error().Err(err).Str("room", roomID).Msg("presence count")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"roomId":       roomID,
			"count":        count,
			"participants": hub.Members(roomID),
		})
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    signal.Subprotocols(),
		// Origins are checked by OriginFilter when configured.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade")
			return
		}
		hub.Serve(conn)
	})

	return router
}

// OriginFilter rejects requests whose Origin is not listed.
func OriginFilter(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = c.GetHeader("Sec-WebSocket-Origin")
		}

		allowed := slices.Contains(allowedOrigins, origin)
		if !allowed && origin != "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
