package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/chunk-streamer/internal/api"
	"github.com/annel0/chunk-streamer/internal/config"
	"github.com/annel0/chunk-streamer/internal/eventbus"
	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/mesh"
	"github.com/annel0/chunk-streamer/internal/observability"
	"github.com/annel0/chunk-streamer/internal/render"
	"github.com/annel0/chunk-streamer/internal/storage"
	"github.com/annel0/chunk-streamer/internal/streaming"
	"github.com/annel0/chunk-streamer/internal/vec"
	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

const tickRate = 60

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML конфигурации (или STREAMER_CONFIG)")
		duration   = flag.Duration("duration", 0, "время работы симуляции (0: до сигнала)")
		speed      = flag.Float64("speed", 12, "скорость наблюдателя, блоков в секунду")
		radius     = flag.Float64("orbit", 256, "радиус круговой траектории наблюдателя, блоков")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	if cfg.Logging.FileSink {
		if err := logging.InitDefaultLogger("streamer"); err != nil {
			log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
		}
		defer logging.CloseDefaultLogger()
	}
	logging.GetLoggerManager().EnableFileSink(cfg.Logging.FileSink)
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🧊 Запуск стримера чанков (seed=%d, радиус загрузки %d)", cfg.Streaming.Seed, cfg.Streaming.LoadRadius)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Error("❌ Ошибка инициализации OpenTelemetry: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("⚠️ Ошибка остановки OpenTelemetry: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ХРАНИЛИЩЕ ===
	repo, err := storage.Open(ctx, storage.Options{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		Redis: &storage.RedisConfig{
			Addr:      cfg.Storage.RedisAddr,
			Password:  cfg.Storage.RedisPassword,
			DB:        cfg.Storage.RedisDB,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
	})
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища: %v", err)
		os.Exit(1)
	}
	defer repo.Close()
	logging.Info("💾 Хранилище чанков: %s", backendName(cfg.Storage.Backend))

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		logging.Error("❌ Ошибка подключения к шине событий: %v", err)
		os.Exit(1)
	}
	defer bus.Close()

	if sub, err := eventbus.StartLoggingListener(bus); err == nil {
		defer sub.Unsubscribe()
	}
	exporter := eventbus.NewMetricsExporter(bus, registry, 5*time.Second)
	exporter.Start()
	defer exporter.Stop()

	publisher := eventbus.NewChunkEventPublisher(bus, "chunk-streamer", cfg.EventBus.Buffer)
	defer publisher.Close()

	// === ДВИЖОК ===
	reg := block.NewDefaultRegistry()
	uploader := render.NewHeadlessUploader(render.DefaultHeadlessConfig(), nil)
	ctrl, err := streaming.NewController(streaming.OptionsFromConfig(cfg.Streaming), streaming.Dependencies{
		Registry:  reg,
		Sampler:   world.NewTerrainGenerator(cfg.Streaming.Seed),
		Storage:   repo,
		Decorator: world.NewTreeDecorator(reg, cfg.Streaming.Seed),
		Lighter:   world.NewSkyLighter(reg),
		Mesher:    mesh.NewFaceMesher(reg),
		Uploader:  uploader,
		Unload:    publisher,
		Abandon:   publisher,
		Metrics:   streaming.NewMetrics(registry),
	})
	if err != nil {
		logging.Error("❌ Ошибка создания стримера: %v", err)
		os.Exit(1)
	}
	ctrl.Start()

	if a := cfg.Streaming.SpawnAnchor; a != nil {
		ctrl.SetSpawnAnchor(world.ChunkCoord{X: a.X, Y: a.Y, Z: a.Z}, a.Radius)
	}

	// === СЕРВЕР СТАТУСА ===
	gpu := &gpuStats{}
	gpu.refresh(uploader)
	status := api.NewStatusServer(api.Config{
		Port:     cfg.Server.GetStatusPort(),
		Streamer: ctrl,
		Uploader: gpu,
		Registry: registry,
	})
	if err := status.Start(); err != nil {
		logging.Error("❌ Ошибка запуска сервера статуса: %v", err)
		ctrl.Shutdown()
		os.Exit(1)
	}
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetStatusPort())
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", cfg.Server.GetStatusPort())

	runLoop(ctx, ctrl, uploader, gpu, *duration, *speed, *radius)

	// === GRACEFUL SHUTDOWN ===
	logging.Debug("Остановка сервисов...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := status.Stop(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера статуса: %v", err)
	}
	ctrl.Shutdown()

	st := ctrl.Stats()
	logging.Info("👋 Стример остановлен: в памяти %d, брошено %d, загрузок на GPU %d",
		st.Resident, st.Abandoned, uploader.Stats().Uploads)
}

// runLoop главный поток: наблюдатель идёт по окружности, каждый кадр Update и Tick
func runLoop(ctx context.Context, ctrl *streaming.Controller, uploader *render.HeadlessUploader, gpu *gpuStats,
	duration time.Duration, speed, orbit float64) {
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()

	start := time.Now()
	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("📡 Получен сигнал завершения")
			return
		case <-deadline:
			logging.Info("⏱️ Время симуляции истекло")
			return
		case <-report.C:
			st := ctrl.Stats()
			logging.Info("📊 Чанк %s: в памяти %d, в работе %d, меши %d, готово %d, ошибок %d",
				st.Observer, st.Resident, st.InFlight, st.MeshQueue, st.ReadyQueue, st.Failed)
		case now := <-ticker.C:
			pos, vel := observerAt(now.Sub(start).Seconds(), speed, orbit)
			ctrl.Update(pos, vel)
			if _, err := ctrl.Tick(now); err != nil {
				logging.Warn("⚠️ Кадр: %v", err)
			}
			gpu.refresh(uploader)
		}
	}
}

// gpuStats статистика загрузчика для HTTP. Загрузчик опрашивается только
// из главного цикла, обработчики читают последний снимок.
type gpuStats struct {
	last atomic.Pointer[render.UploaderStats]
}

func (g *gpuStats) refresh(u *render.HeadlessUploader) {
	st := u.Stats()
	g.last.Store(&st)
}

// Stats реализует api.UploaderStats
func (g *gpuStats) Stats() render.UploaderStats {
	if st := g.last.Load(); st != nil {
		return *st
	}
	return render.UploaderStats{}
}

// observerAt положение и скорость наблюдателя на окружности радиуса orbit
func observerAt(t, speed, orbit float64) (vec.Vec3Float, vec.Vec3Float) {
	if orbit <= 0 {
		return vec.Vec3Float{X: speed * t, Y: 40}, vec.Vec3Float{X: speed}
	}
	omega := speed / orbit
	a := omega * t
	pos := vec.Vec3Float{X: orbit * math.Cos(a), Y: 40, Z: orbit * math.Sin(a)}
	vel := vec.Vec3Float{X: -speed * math.Sin(a), Z: speed * math.Cos(a)}
	return pos, vel
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("📨 Шина событий в памяти")
		return eventbus.NewMemoryBus(cfg.Buffer), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		return nil, err
	}
	logging.Info("📨 NATS JetStream: %s, поток %s", cfg.URL, cfg.Stream)
	return bus, nil
}

func backendName(b string) string {
	if b == "" {
		return storage.BackendMemory
	}
	return b
}
