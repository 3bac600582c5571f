package front

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/config"
	"github.com/roomrelay/signaling-server/internal/v1/domain"
	"github.com/roomrelay/signaling-server/internal/v1/health"
	"github.com/roomrelay/signaling-server/internal/v1/logging"
	"github.com/roomrelay/signaling-server/internal/v1/middleware"
	"github.com/roomrelay/signaling-server/internal/v1/ratelimit"
	"github.com/roomrelay/signaling-server/internal/v1/room"
	"github.com/roomrelay/signaling-server/internal/v1/token"
	"github.com/roomrelay/signaling-server/internal/v1/turnauth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// turnCredentialsEndpoint names the rate-limiter scope the TURN credentials
// handler checks against, also used as internal/v1/ratelimit's endpoint
// label for metrics.
const turnCredentialsEndpoint = "turn-credentials"

// allowedCORSHeaders is the fixed header allow-list spec §4.E requires on
// every JSON endpoint.
var allowedCORSHeaders = []string{"content-type", "authorization", "x-internal-secret", "x-dev-issuer-secret"}

// Deps bundles the Front Door's collaborators, constructed once at
// startup and handed to NewRouter.
type Deps struct {
	Hub     *room.Hub
	Config  *config.Config
	Limiter *ratelimit.Limiter
	Health  *health.Handler
}

// NewRouter assembles the Gin engine implementing spec §4.E: health, dev
// token issuance, TURN credential minting, and the WebSocket upgrade,
// wired the way the teacher's cmd/v1/session/main.go wires its router
// (CORS, gin.Recovery, a dedicated ws route group).
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("signaling-server"))
	router.Use(middleware.CorrelationID())

	jsonGroup := router.Group("/")
	jsonGroup.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    allowedCORSHeaders,
	}))

	jsonGroup.GET("/health", handleHealth)
	jsonGroup.GET("/health/live", deps.Health.Liveness)
	jsonGroup.GET("/health/ready", deps.Health.Readiness)
	jsonGroup.GET("/metrics", gin.WrapH(promhttp.Handler()))
	jsonGroup.POST("/token/issue", handleTokenIssue(deps.Config))
	jsonGroup.GET("/turn-credentials", handleTURNCredentials(deps.Config, deps.Limiter))

	// The WebSocket upgrade is deliberately outside jsonGroup: spec §4.E
	// says not to re-wrap the 101 response, and gin-contrib/cors writes
	// CORS headers onto every response it sees, upgrade included.
	router.GET("/ws/:roomId", handleWebSocket(deps.Hub, deps.Config))

	return router
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "now": time.Now().UnixMilli()})
}

// extractToken implements spec §4.E's extraction order: Authorization:
// Bearer first, then the token query parameter.
func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

type tokenIssueRequest struct {
	UserID     string `json:"userId"`
	RoomID     string `json:"roomId"`
	Name       string `json:"name,omitempty"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

const (
	minDevTokenTTL     = 30 * time.Second
	maxDevTokenTTL     = 600 * time.Second
	defaultDevTokenTTL = 300 * time.Second
)

// handleTokenIssue implements the dev-only POST /token/issue endpoint: a
// convenience minter so a local client can obtain a join token without a
// real identity provider in front of this service.
func handleTokenIssue(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AllowDevTokenIssuer {
			c.JSON(http.StatusForbidden, gin.H{"error": "DEV_ISSUER_DISABLED"})
			return
		}

		internalSecret := c.GetHeader("x-internal-secret")
		devSecret := c.GetHeader("x-dev-issuer-secret")
		authorized := (internalSecret != "" && internalSecret == cfg.InternalAPISecret) ||
			(devSecret != "" && cfg.DevIssuerSecret != "" && devSecret == cfg.DevIssuerSecret)
		if !authorized {
			c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN"})
			return
		}

		var req tokenIssueRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.RoomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST"})
			return
		}

		ttl := defaultDevTokenTTL
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
			if ttl < minDevTokenTTL {
				ttl = minDevTokenTTL
			}
			if ttl > maxDevTokenTTL {
				ttl = maxDevTokenTTL
			}
		}

		now := time.Now()
		claims := token.Claims{Room: req.RoomID, Name: req.Name}
		claims.Subject = req.UserID
		claims.IssuedAt = jwt.NewNumericDate(now)
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

		signed, err := token.Sign(claims, cfg.JoinTokenSecret)
		if err != nil {
			logging.Error(c.Request.Context(), "dev token issuer: sign failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
			return
		}

		logging.Warn(c.Request.Context(), "dev token issuer minted a token",
			zap.String("user_id", req.UserID), zap.String("room_id", req.RoomID))

		c.JSON(http.StatusOK, gin.H{
			"token":     signed,
			"roomId":    req.RoomID,
			"userId":    req.UserID,
			"name":      req.Name,
			"expiresAt": now.Add(ttl).UnixMilli(),
		})
	}
}

// handleTURNCredentials implements GET /turn-credentials: verify the join
// token, apply the per-user rate limit, and mint ephemeral TURN REST API
// credentials alongside a STUN-only fallback entry.
func handleTURNCredentials(cfg *config.Config, limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, kind, err := token.Verify(extractToken(c), cfg.JoinTokenSecret, token.VerifyOptions{})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "reason": string(kind)})
			return
		}

		result, err := limiter.Check(c.Request.Context(), turnCredentialsEndpoint, claims.Subject, cfg.TURNRateLimitMax, cfg.TURNRateLimitWindowSec)
		if err != nil {
			logging.Error(c.Request.Context(), "turn-credentials: rate limiter unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "RATE_LIMIT_ERROR"})
			return
		}
		rateLimitBody := gin.H{"remaining": result.Remaining, "resetAt": result.ResetAt.UnixMilli()}
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "RATE_LIMITED", "rateLimit": rateLimitBody})
			return
		}

		ttl := turnauth.ClampTTL(cfg.TURNTTLSeconds)
		iceServers := buildICEServers(cfg, claims.Subject, ttl)

		c.JSON(http.StatusOK, gin.H{
			"iceServers": iceServers,
			"ttlSeconds": int(ttl / time.Second),
			"rateLimit":  rateLimitBody,
		})
	}
}

func buildICEServers(cfg *config.Config, userID string, ttl time.Duration) []gin.H {
	var servers []gin.H

	if stunURLs := stunURLsFrom(cfg.TURNURLs); len(stunURLs) > 0 {
		servers = append(servers, gin.H{"urls": stunURLs})
	}

	if creds, ok := turnauth.Mint(userID, cfg.TURNSharedSecret, ttl, time.Now()); ok {
		servers = append(servers, gin.H{
			"urls":       cfg.TURNURLs,
			"username":   creds.Username,
			"credential": creds.Credential,
		})
	}

	return servers
}

// stunURLsFrom derives a STUN entry per configured TURN host by swapping
// the scheme: TURN_URLS has no dedicated STUN counterpart in the
// configuration surface, and every TURN server also answers STUN binding
// requests on the same host:port, so this is the cheapest way to offer a
// usable STUN fallback without a new environment variable.
func stunURLsFrom(turnURLs []string) []string {
	var out []string
	for _, raw := range turnURLs {
		switch {
		case strings.HasPrefix(raw, "turns:"):
			out = append(out, "stun:"+strings.TrimPrefix(raw, "turns:"))
		case strings.HasPrefix(raw, "turn:"):
			out = append(out, "stun:"+strings.TrimPrefix(raw, "turn:"))
		}
	}
	return out
}

// handleWebSocket implements GET /ws/{roomId}: verify the join token
// against this room, upgrade the connection, attach a Socket to the Room
// actor, and pump frames until the connection closes.
func handleWebSocket(hub *room.Hub, cfg *config.Config) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin(parseAllowedOrigins(cfg.AllowedOrigins)),
	}

	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		claims, kind, err := token.Verify(extractToken(c), cfg.JoinTokenSecret, token.VerifyOptions{ExpectedRoom: roomID})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "reason": string(kind)})
			return
		}

		if !c.IsWebsocket() {
			c.JSON(http.StatusUpgradeRequired, gin.H{"error": "EXPECTED_WEBSOCKET"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
			return
		}

		r := hub.GetOrCreateRoom(domain.RoomID(roomID))
		socket := newWSSocket(conn)
		go socket.writePump()

		identity := room.JoinIdentity{UserID: domain.UserID(claims.Subject), Name: claims.Name}
		resumeToken := c.Query("resumeToken")

		ctx := c.Request.Context()
		result, err := r.AttachSocket(ctx, identity, socket, resumeToken)
		if err != nil {
			socket.Close(websocket.CloseInternalServerErr, "attach failed")
			return
		}

		peerID := result.PeerID
		socket.readPump(
			func(raw []byte) { r.Submit(peerID, socket, raw) },
			func() { r.Depart(peerID, socket) },
		)
	}
}

// parseAllowedOrigins splits the comma-separated ALLOWED_ORIGINS
// configuration value, defaulting to localhost for local development,
// mirroring the teacher's GetAllowedOriginsFromEnv.
func parseAllowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// checkOrigin is the teacher's session.Hub.ServeWs origin check, compared
// against a configurable allow-list instead of a hardcoded one, and still
// letting non-browser clients (no Origin header) through.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			allowedURL, err := url.Parse(a)
			if err != nil {
				continue
			}
			if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
				return true
			}
		}
		return false
	}
}
