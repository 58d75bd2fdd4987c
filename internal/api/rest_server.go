// Package api админский REST API сервера: состояние сервера, просмотр
// алломантии сущностей и административные команды.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/auth"
	"github.com/annel0/mistborn/internal/damage"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/middleware"
	"github.com/annel0/mistborn/internal/replication"
	"github.com/annel0/mistborn/internal/sim"
)

// Simulation то, что REST API делает с симуляцией
type Simulation interface {
	Snapshot(entityID uint64) (sim.Snapshot, bool)
	Submit(cmd sim.Command) bool
	ApplyDamage(ctx context.Context, victimID, sourceID uint64, amount float64, kind damage.Kind) (damage.Result, error)
	Tick() uint64
}

// ViewSource реплицированные представления (в том числе других регионов)
type ViewSource interface {
	View(ctx context.Context, entityID uint64) (replication.View, bool, error)
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr       string // адрес для запуска сервера
	Version    string
	Sim        Simulation
	Views      ViewSource // nil: /api/views недоступен
	Tokens     *auth.TokenIssuer
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *logging.Logger
}

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	sim        Simulation
	views      ViewSource
	tokens     *auth.TokenIssuer
	metrics    *ServerMetrics
	logger     *logging.Logger
	version    string
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ReserveRequest пополнение запаса
type ReserveRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// DamageRequest удар по сущности
type DamageRequest struct {
	Amount   float64 `json:"amount" binding:"required,gte=0"`
	SourceID uint64  `json:"source_id"`
	Kind     string  `json:"kind"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetComponentLogger("api")
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("rest_api"))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("rest_api", cfg.Registerer, cfg.Gatherer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:  router,
		sim:     cfg.Sim,
		views:   cfg.Views,
		tokens:  cfg.Tokens,
		metrics: NewServerMetrics(),
		logger:  cfg.Logger,
		version: cfg.Version,
	}
	rs.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.Use(rs.jwtMiddleware())
	{
		api.GET("/server", rs.handleServerInfo)
		api.GET("/entities/:id/allomancy", rs.handleGetAllomancy)
		api.GET("/views/:id", rs.handleGetView)

		// Административные эндпоинты (только для админов)
		admin := api.Group("/admin")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/entities/:id/powers/:metal", rs.handleGrantPower)
			admin.DELETE("/entities/:id/powers/:metal", rs.handleRevokePower)
			admin.POST("/entities/:id/lerasium", rs.handleLerasium)
			admin.POST("/entities/:id/reserves/:metal", rs.handleFeedReserve)
			admin.POST("/entities/:id/damage", rs.handleDamage)
		}
	}
}

// Handler HTTP обработчик (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер; блокируется до Shutdown
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API запущен на %s", rs.httpServer.Addr)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает REST сервер
func (rs *RestServer) Shutdown(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    rs.metrics.Info(rs.version, rs.sim.Tick()),
	})
}

func (rs *RestServer) handleGetAllomancy(c *gin.Context) {
	id, ok := entityParam(c)
	if !ok {
		return
	}
	snap, found := rs.sim.Snapshot(id)
	if !found {
		abort(c, http.StatusNotFound, "Сущность не найдена")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние алломантии",
		Data:    snap,
	})
}

func (rs *RestServer) handleGetView(c *gin.Context) {
	if rs.views == nil {
		abort(c, http.StatusNotImplemented, "Репликация не настроена")
		return
	}
	id, ok := entityParam(c)
	if !ok {
		return
	}
	view, found, err := rs.views.View(c.Request.Context(), id)
	if err != nil {
		rs.logger.Error("❌ Ошибка чтения представления %d: %v", id, err)
		abort(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return
	}
	if !found {
		abort(c, http.StatusNotFound, "Представление не найдено")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Реплицированное представление",
		Data:    view,
	})
}

func (rs *RestServer) handleGrantPower(c *gin.Context) {
	rs.submitMetalCommand(c, sim.GrantPower)
}

func (rs *RestServer) handleRevokePower(c *gin.Context) {
	rs.submitMetalCommand(c, sim.RevokePower)
}

func (rs *RestServer) handleLerasium(c *gin.Context) {
	id, ok := rs.existingEntity(c)
	if !ok {
		return
	}
	rs.submit(c, sim.GrantAllPowers(id))
}

func (rs *RestServer) handleFeedReserve(c *gin.Context) {
	id, ok := rs.existingEntity(c)
	if !ok {
		return
	}
	metal, ok := metalParam(c)
	if !ok {
		return
	}
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	rs.submit(c, sim.FeedReserve(id, metal, req.Amount))
}

func (rs *RestServer) handleDamage(c *gin.Context) {
	id, ok := entityParam(c)
	if !ok {
		return
	}
	var req DamageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	res, err := rs.sim.ApplyDamage(c.Request.Context(), id, req.SourceID, req.Amount, damage.ParseKind(req.Kind))
	if errors.Is(err, sim.ErrEntityNotFound) {
		abort(c, http.StatusNotFound, "Сущность не найдена")
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return
	}
	rs.logger.Info("⚔️ Оператор %s: урон %.2f по %d (итог %.2f, смерть=%v)",
		c.GetString(ctxOperator), req.Amount, id, res.Amount, res.Died)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Урон применён",
		Data:    res,
	})
}

func (rs *RestServer) submitMetalCommand(c *gin.Context, build func(uint64, allomancy.Metal) sim.Command) {
	id, ok := rs.existingEntity(c)
	if !ok {
		return
	}
	metal, ok := metalParam(c)
	if !ok {
		return
	}
	rs.submit(c, build(id, metal))
}

// submit ставит команду в очередь; она применится в начале следующего тика
func (rs *RestServer) submit(c *gin.Context, cmd sim.Command) {
	if !rs.sim.Submit(cmd) {
		abort(c, http.StatusServiceUnavailable, "Очередь команд переполнена")
		return
	}
	rs.logger.Info("🛠️ Оператор %s: %s для %d (%s)", c.GetString(ctxOperator), cmd.Kind, cmd.EntityID, cmd.Metal)
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Команда поставлена в очередь",
		Data:    gin.H{"command": cmd.Kind.String(), "entity_id": cmd.EntityID},
	})
}

func (rs *RestServer) existingEntity(c *gin.Context) (uint64, bool) {
	id, ok := entityParam(c)
	if !ok {
		return 0, false
	}
	if _, found := rs.sim.Snapshot(id); !found {
		abort(c, http.StatusNotFound, "Сущность не найдена")
		return 0, false
	}
	return id, true
}

func entityParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abort(c, http.StatusBadRequest, "Неверный идентификатор сущности")
		return 0, false
	}
	return id, true
}

// metalParam принимает имя металла или его индекс
func metalParam(c *gin.Context) (allomancy.Metal, bool) {
	raw := c.Param("metal")
	if m, ok := allomancy.ParseMetal(raw); ok {
		return m, true
	}
	if idx, err := strconv.ParseInt(raw, 10, 32); err == nil {
		if m, ok := allomancy.MetalFromIndex(int32(idx)); ok {
			return m, true
		}
	}
	abort(c, http.StatusBadRequest, "Неизвестный металл")
	return allomancy.NoMetal, false
}
