package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/consult/internal/platform/auth"
)

const maxMessageSize = 8 << 10

// Authorizer decides whether actor may join a consultation room. Returning
// an *echo.HTTPError selects the rejection status; other errors become 403.
type Authorizer func(ctx context.Context, roomID uuid.UUID, actor auth.Identity) error

type Config struct {
	JWT auth.JWTConfig
	// DevMode lets connections without a token in as the dev admin.
	DevMode        bool
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to room connections.
type Handler struct {
	hub       *Hub
	authorize Authorizer
	cfg       Config
	upgrader  gorillawebsocket.Upgrader
	logger    zerolog.Logger
}

func NewHandler(hub *Hub, authorize Authorizer, cfg Config, logger zerolog.Logger) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	h := &Handler{hub: hub, authorize: authorize, cfg: cfg, logger: logger}
	h.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/consultations/:id", h.Connect)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// identify reads the token from the Authorization header or the token query
// parameter, since browsers cannot set headers on websocket requests.
func (h *Handler) identify(c echo.Context) (auth.Identity, error) {
	tok, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		tok = c.QueryParam("token")
	}
	if tok == "" && h.cfg.DevMode {
		return auth.Identity{ID: auth.DevUserID, Name: "dev-user", Roles: []auth.Role{auth.RoleAdmin}}, nil
	}
	claims, err := auth.ParseToken(h.cfg.JWT, tok)
	if err != nil {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return claims.Identity(), nil
}

// Connect authenticates the caller, checks access to the consultation and
// joins its room.
func (h *Handler) Connect(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}
	actor, err := h.identify(c)
	if err != nil {
		return err
	}
	if h.authorize != nil {
		if err := h.authorize(c.Request().Context(), roomID, actor); err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			return echo.NewHTTPError(http.StatusForbidden, "access to this consultation denied")
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	client := NewClient(h.cfg.SendBuffer)
	h.hub.Join(roomID, client, ParticipantFromIdentity(actor))

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Leave(client)
		client.Close()
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
		if err := h.hub.Handle(client, message); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(h.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		h.hub.Leave(client)
		client.Close()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseGoingAway, ""))
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
