package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// StartOpts holds configuration for the gateway HTTP server.
type StartOpts struct {
	Hub  *Hub
	Host string
	Port int
	Out  io.Writer

	// ResyncSchedule is a 5-field cron expression. Empty disables the
	// periodic presence resync.
	ResyncSchedule string
}

// Start launches the gateway server. It blocks until ctx is cancelled, then
// shuts down gracefully, disconnecting every socket.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Hub == nil {
		return fmt.Errorf("gateway: hub is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Hub)

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	if opts.ResyncSchedule != "" {
		go resyncLoop(ctx, opts.Hub, opts.ResyncSchedule)
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		opts.Hub.Close()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Gateway listening on %s\n", addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, h *Hub) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", h.handleWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handshakeToken pulls the credential from the query string or the
// Authorization header; the query form exists for browser clients that
// cannot set headers on websocket upgrades.
func handshakeToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// handleWS authenticates the handshake, upgrades, and runs the read loop
// until the client goes away.
func (h *Hub) handleWS(c *gin.Context) {
	ident, err := h.verifier.Verify(handshakeToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("gateway: upgrade failed for user %d: %v", ident.UserID, err)
		return
	}

	conn := h.Connect(ws, *ident)
	defer h.Disconnect(conn)

	ws.SetReadLimit(h.maxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
		h.dispatch(conn, raw)
	}
}

// resyncLoop fires the presence resync on a cron schedule until ctx is done.
func resyncLoop(ctx context.Context, h *Hub, expr string) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		log.Printf("gateway: bad resync schedule %q: %v", expr, err)
		return
	}
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			h.ResyncPresence()
		}
	}
}
