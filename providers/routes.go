package providers

import (
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/video2commons/relay/src/hub"
	"github.com/video2commons/relay/src/types"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the web frontend's origin; same-host tools (curl,
	// health checks) send no Origin at all.
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool { return true },
}

// requestHandler routes /ws to the WebSocket upgrader and everything else to
// the Fiber app. Fiber v3 does not expose *fasthttp.RequestCtx, so the
// upgrade has to happen before Fiber sees the request.
func (a *App) requestHandler() fasthttp.RequestHandler {
	appHandler := a.fiberApp().Handler()

	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			a.handleUpgrade(ctx)
			return
		}
		appHandler(ctx)
	}
}

// fiberApp serves the non-WebSocket surface: an info endpoint and a
// catch-all redirect to the web frontend, where the actual UI lives.
func (a *App) fiberApp() *fiber.App {
	app := fiber.New()

	app.Get("/ws/info", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"websocket": true,
			"endpoint":  "/ws",
			"clients":   a.hub.ClientCount(),
			"rooms":     len(a.hub.Rooms()),
			"feed":      a.listener.Available(),
		})
	})

	app.Use(func(c fiber.Ctx) error {
		return c.Redirect().To(a.cfg.WebURL)
	})

	return app
}

func (a *App) handleUpgrade(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	clientID := uuid.New().String()
	h := a.hub
	logger := a.logger

	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := hub.NewClient(clientID, &fasthttpConn{conn}, h)
		h.Register(client)
		go client.WritePump()
		// Blocks until the client disconnects; unregistration and room
		// cleanup happen in the pump's teardown.
		client.ReadPump()
	})
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) WriteJSON(v any) error { return f.conn.WriteJSON(v) }
func (f *fasthttpConn) ReadJSON(v any) error  { return f.conn.ReadJSON(v) }
func (f *fasthttpConn) Close() error          { return f.conn.Close() }

var _ types.Conn = (*fasthttpConn)(nil)
