package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/punchclock/engine/internal/auth"
	"github.com/punchclock/engine/internal/payroll"
)

// Gateway is the thin HTTP presentation surface over the engine. It only
// calls engine operations and renders their results or failures; all
// settlement logic stays in internal/payroll.
type Gateway struct {
	router *gin.Engine
	engine *payroll.Engine
	auth   *auth.Service
	cache  *SessionCache // optional
	hub    *EventHub     // optional
}

// Config holds gateway construction options. Cache and Hub may be nil;
// the gateway then serves every read from the engine and omits /ws.
type Config struct {
	Auth  *auth.Service
	Cache *SessionCache
	Hub   *EventHub
}

func New(engine *payroll.Engine, cfg Config) *Gateway {
	g := &Gateway{
		router: gin.Default(),
		engine: engine,
		auth:   cfg.Auth,
		cache:  cfg.Cache,
		hub:    cfg.Hub,
	}
	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.GET("/health", g.health)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/auth/token", g.login)

		// Administrative surface, employer-side.
		admin := v1.Group("", g.authMiddleware())
		{
			admin.POST("/funds/deposit", g.deposit)
			admin.POST("/funds/withdraw", g.withdraw)
			admin.GET("/balance", g.balance)
			admin.POST("/whitelist", g.addToWhitelist)
			admin.POST("/employees", g.hireEmployee)
			admin.DELETE("/employees/:identity", g.terminateEmployee)
			admin.PUT("/employees/:identity/salary", g.updateSalary)
			admin.GET("/employees/count", g.employeeCount)
			admin.POST("/sessions/:identity/timeout", g.forceTimeout)
		}

		// Employee surface. Employee identity proof is the wallet layer's
		// concern, outside this engine.
		v1.POST("/sessions", g.punchIn)
		v1.GET("/sessions/:identity", g.sessionStatus)
		v1.POST("/sessions/:identity/claim", g.punchOut)

		if g.hub != nil {
			v1.GET("/ws", g.hub.Handle)
		}
	}
}

// Start runs the HTTP server on addr.
func (g *Gateway) Start(addr string) error {
	return g.router.Run(addr)
}

// Router exposes the underlying handler for tests and embedding.
func (g *Gateway) Router() http.Handler {
	return g.router
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("operator", claims.Operator)
		c.Next()
	}
}

func (g *Gateway) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, err := g.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
