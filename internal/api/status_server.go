package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/middleware"
	"github.com/annel0/chunk-streamer/internal/render"
	"github.com/annel0/chunk-streamer/internal/streaming"
	"github.com/annel0/chunk-streamer/internal/world"
)

// Streamer то, что сервер статуса читает у движка. Все методы потокобезопасны.
type Streamer interface {
	Stats() streaming.Stats
	Store() *world.Store
	Remesh(coord world.ChunkCoord) bool
}

// UploaderStats источник статистики загрузчика (опционально)
type UploaderStats interface {
	Stats() render.UploaderStats
}

// Config содержит конфигурацию сервера статуса
type Config struct {
	Port     int
	Streamer Streamer
	Uploader UploaderStats // может быть nil
	Registry *prometheus.Registry
}

// StatusServer HTTP-сервер состояния стримера: /health, /status, /metrics
// и просмотр отдельных чанков.
type StatusServer struct {
	router   *gin.Engine
	server   *http.Server
	streamer Streamer
	uploader UploaderStats
	metrics  *ServerMetrics
	logger   *logging.Logger
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ChunkInfo состояние одного резидентного чанка
type ChunkInfo struct {
	Coord         world.ChunkCoord `json:"coord"`
	State         string           `json:"state"`
	Tier          string           `json:"tier"`
	TerrainReady  bool             `json:"terrain_ready"`
	Lit           bool             `json:"lit"`
	Decorated     bool             `json:"decorated"`
	MeshGenerated bool             `json:"mesh_generated"`
	Uploaded      bool             `json:"uploaded"`
	Dirty         bool             `json:"dirty"`
	Leased        bool             `json:"leased"`
	Empty         bool             `json:"empty"`
	FullyOpaque   bool             `json:"fully_opaque"`
}

// NewStatusServer создает сервер статуса
func NewStatusServer(cfg Config) *StatusServer {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("chunk_streamer_status"))
	router.Use(middleware.NewRequestLogger(logging.GetComponentLogger("http")).Handler())

	promMw := middleware.NewPrometheusMiddleware("status_api", cfg.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Registry)

	s := &StatusServer{
		router:   router,
		streamer: cfg.Streamer,
		uploader: cfg.Uploader,
		metrics:  NewServerMetrics(),
		logger:   logging.GetComponentLogger("http"),
		server: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes настраивает маршруты
func (s *StatusServer) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)

	api := s.router.Group("/api")
	{
		api.GET("/chunks/:x/:y/:z", s.handleChunk)
		api.POST("/chunks/:x/:y/:z/remesh", s.handleRemesh)
	}
}

// Handler возвращает http.Handler (для тестов)
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start запускает сервер в фоне. Ошибка привязки порта возвращается сразу.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("🌐 Сервер статуса слушает %s", ln.Addr())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("❌ Сервер статуса остановлен с ошибкой: %v", err)
		}
	}()
	return nil
}

// Stop корректно останавливает сервер
func (s *StatusServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *StatusServer) handleStatus(c *gin.Context) {
	data := gin.H{
		"streaming": s.streamer.Stats(),
		"process":   s.metrics.Snapshot(),
	}
	if s.uploader != nil {
		data["gpu"] = s.uploader.Stats()
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние стримера",
		Data:    data,
	})
}

func (s *StatusServer) handleChunk(c *gin.Context) {
	coord, ok := parseCoord(c)
	if !ok {
		return
	}

	store := s.streamer.Store()
	ch, found := store.Get(coord)
	if !found {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Чанк не загружен",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Чанк найден",
		Data: ChunkInfo{
			Coord:         coord,
			State:         ch.State().String(),
			Tier:          ch.Tier().String(),
			TerrainReady:  ch.TerrainReady(),
			Lit:           ch.HasLightingData(),
			Decorated:     ch.Decorated(),
			MeshGenerated: ch.MeshGenerated(),
			Uploaded:      ch.Uploaded(),
			Dirty:         ch.Dirty(),
			Leased:        store.IsLeased(coord),
			Empty:         ch.IsEmpty(),
			FullyOpaque:   ch.IsFullyOpaque(),
		},
	})
}

func (s *StatusServer) handleRemesh(c *gin.Context) {
	coord, ok := parseCoord(c)
	if !ok {
		return
	}
	if !s.streamer.Remesh(coord) {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Чанк не загружен, не требует меша или уже в очереди",
		})
		return
	}
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Перестроение меша запланировано",
	})
}

// parseCoord разбирает координату из пути; при ошибке отвечает 400
func parseCoord(c *gin.Context) (world.ChunkCoord, bool) {
	var vals [3]int
	for i, name := range [3]string{"x", "y", "z"} {
		v, err := strconv.Atoi(c.Param(name))
		if err != nil {
			c.JSON(http.StatusBadRequest, GenericResponse{
				Success: false,
				Message: "Неверная координата " + name,
			})
			return world.ChunkCoord{}, false
		}
		vals[i] = v
	}
	return world.ChunkCoord{X: vals[0], Y: vals[1], Z: vals[2]}, true
}
