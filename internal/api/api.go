// Package api exposes the execution engine over HTTP: order submission
// and cancellation, analytics queries, health checks, and an
// admin-only surface for safety-mode control.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/config"
	"github.com/shadowbook/execd/internal/execerr"
	"github.com/shadowbook/execd/internal/metrics"
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/orchestrator"
	"github.com/shadowbook/execd/internal/safety"
	"github.com/shadowbook/execd/pkg/observability"
)

// Server wires the orchestrator and supporting read models onto a gin
// engine, wrapped with the observability middleware and CORS.
type Server struct {
	cfg          config.ServerConfig
	jwtCfg       config.JWTConfig
	orchestrator *orchestrator.Orchestrator
	gate         *safety.Gate
	tracker      *metrics.Tracker
	obsMW        *observability.ObservabilityMiddleware
	health       *observability.HealthServer
	logger       *observability.Logger

	engine *gin.Engine
}

func NewServer(
	cfg config.ServerConfig,
	jwtCfg config.JWTConfig,
	orch *orchestrator.Orchestrator,
	gate *safety.Gate,
	tracker *metrics.Tracker,
	obsMW *observability.ObservabilityMiddleware,
	health *observability.HealthServer,
	logger *observability.Logger,
) *Server {
	s := &Server{
		cfg: cfg, jwtCfg: jwtCfg,
		orchestrator: orch, gate: gate, tracker: tracker,
		obsMW: obsMW, health: health, logger: logger,
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.obsMW != nil {
		r.Use(s.obsMW.GinMiddleware())
	}

	if s.health != nil {
		s.health.RegisterRoutes(r)
	}

	orders := r.Group("/orders")
	{
		orders.POST("", s.handleSubmit)
		orders.POST("/:id/cancel", s.handleCancel)
	}

	r.GET("/venues/:venue/analytics", s.handleVenueAnalytics)

	admin := r.Group("/admin")
	admin.Use(s.requireAdmin())
	{
		admin.POST("/mode", s.handleSetMode)
		admin.POST("/emergency-stop", s.handleEmergencyStop)
	}

	return r
}

// CORSHandler wraps the gin engine with rs/cors for browsers consuming
// the analytics endpoints directly.
func (s *Server) CORSHandler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(s.engine)
}

type submitRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	Qty         string  `json:"qty" binding:"required"`
	LimitPrice  *string `json:"limit_price"`
	TimeInForce string  `json:"time_in_force"`
	Algorithm   string  `json:"algorithm"`
	Urgency     string  `json:"urgency"`
	Simulation  bool    `json:"simulation"`
	MEVProtect  bool    `json:"mev_protection"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid qty"})
		return
	}

	var limitPrice *decimal.Decimal
	if req.LimitPrice != nil {
		lp, err := decimal.NewFromString(*req.LimitPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit_price"})
			return
		}
		limitPrice = &lp
	}

	order := model.ParentOrder{
		OrderID:     uuid.NewString(),
		Symbol:      model.Symbol(req.Symbol),
		Side:        model.Side(req.Side),
		TotalQty:    qty,
		LimitPrice:  limitPrice,
		TimeInForce: model.TimeInForce(req.TimeInForce),
		Algorithm:   model.AlgorithmHint(req.Algorithm),
		Metadata: model.OrderMetadata{
			Urgency:       model.Urgency(req.Urgency),
			Simulation:    req.Simulation,
			MEVProtection: req.MEVProtect,
		},
		CreatedAt: time.Now(),
	}

	result, err := s.orchestrator.Submit(c.Request.Context(), order)
	if err != nil {
		writeExecErr(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCancel(c *gin.Context) {
	orderID := c.Param("id")
	if err := s.orchestrator.Cancel(c.Request.Context(), orderID); err != nil {
		writeExecErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": "cancelled"})
}

func (s *Server) handleVenueAnalytics(c *gin.Context) {
	venueID := c.Param("venue")
	snap := s.tracker.Snapshot(venueID)
	c.JSON(http.StatusOK, snap)
}

type setModeRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := safety.Mode(req.Mode)
	switch mode {
	case safety.ModeLive, safety.ModeSimulation, safety.ModePaused:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode"})
		return
	}

	s.gate.SetMode(c.Request.Context(), mode, req.Reason)
	c.JSON(http.StatusOK, gin.H{"mode": string(mode)})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	s.gate.EmergencyStop(c.Request.Context(), req.Reason)
	c.JSON(http.StatusOK, gin.H{"mode": string(safety.ModePaused)})
}

// requireAdmin parses a Bearer JWT signed with the configured HMAC
// secret; any validly signed token with role=admin may proceed.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" || tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, execerr.New(execerr.KindInvalidOrder, "", "unexpected signing method")
			}
			return []byte(s.jwtCfg.Secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if role, _ := claims["role"].(string); role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		c.Next()
	}
}

func writeExecErr(c *gin.Context, err error) {
	var ee *execerr.Error
	status := http.StatusInternalServerError
	kind := execerr.Kind("unknown")

	if errors.As(err, &ee) {
		kind = ee.Kind
		switch ee.Kind {
		case execerr.KindInvalidOrder:
			status = http.StatusBadRequest
		case execerr.KindInsufficientLiquidity, execerr.KindSlippageExceeded:
			status = http.StatusUnprocessableEntity
		case execerr.KindRateLimited:
			status = http.StatusTooManyRequests
		case execerr.KindTradingPaused:
			status = http.StatusServiceUnavailable
		case execerr.KindTimeout:
			status = http.StatusGatewayTimeout
		case execerr.KindMEVAttackDetected:
			status = http.StatusForbidden
		}
	}

	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
