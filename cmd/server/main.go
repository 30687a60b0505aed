// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/cache"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/config"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/handler"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/logging"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/metrics"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/middleware"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/model"
)

const (
	serviceName    = "cardio-risk-service"
	serviceVersion = "1.0.0"

	drainDelay      = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// modelSource is what the server needs from either the file-backed loader or
// the mock.
type modelSource interface {
	model.Source
	Loaded() bool
	Close() error
}

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to config file (optional)")
	port := flag.Int("port", 0, "HTTP API port (default: 8080)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC health port (default: 50051)")
	metricsPort := flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	modelDirs := flag.String("model-dir", "", "Comma-separated artifact directories (default: .,models)")
	redisAddr := flag.String("redis", "", "Redis address for the prediction cache (optional)")
	useMock := flag.Bool("mock", false, "Use mock inference engine (for testing)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override file and environment
	if *port > 0 {
		cfg.Port = *port
	}
	if *grpcPort > 0 {
		cfg.GRPCPort = *grpcPort
	}
	if *metricsPort > 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *modelDirs != "" {
		cfg.ModelDirs = strings.Split(*modelDirs, ",")
	}
	if *redisAddr != "" {
		cfg.Redis = *redisAddr
	}
	if *useMock {
		cfg.UseMockInference = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		File:      cfg.LogFile,
		MaxSizeMB: 100,
		MaxFiles:  5,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting "+serviceName,
		zap.Int("port", cfg.Port),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("metrics_port", cfg.MetricsPort),
		zap.Strings("model_dirs", cfg.ModelSearchPaths()),
		zap.String("redis", cfg.Redis),
		zap.Bool("otel", cfg.OTELEnabled),
	)

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		var err error
		tracerShutdown, err = initTracer(cfg.OTELEndpoint, logger)
		if err != nil {
			logger.Warn("failed to initialize tracer", zap.Error(err))
		} else {
			logger.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	models := newModelSource(cfg, logger)
	defer models.Close()

	// A missing artifact at startup is not fatal: the loader retries on
	// every request until one is deployed.
	if h, err := models.Get(context.Background()); err != nil {
		logger.Warn("model not loaded at startup", zap.Error(err))
	} else {
		logger.Info("model loaded",
			zap.String("version", h.Version()),
			zap.Bool("probability", h.SupportsProbability()),
		)
	}

	predictions := newCache(cfg, logger)
	defer predictions.Close()

	healthServer := health.NewServer()

	// gRPC: health and reflection
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(),
		middleware.UnaryMetricsInterceptor(),
	}
	var grpcOpts []grpc.ServerOption
	if cfg.OTELEnabled {
		grpcOpts = append(grpcOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	grpcOpts = append(grpcOpts, grpc.ChainUnaryInterceptor(interceptors...))
	grpcServer := grpc.NewServer(grpcOpts...)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	serveErrs := make(chan error, 2)
	metricsServer := startMetricsServer(cfg.MetricsPort, serveErrs, logger)
	apiServer := startAPIServer(cfg, models, predictions, healthServer, serveErrs, logger)

	// Set health status to serving
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// failure is filled before gRPC stops, so it is visible once Serve returns.
	failure := make(chan error, 1)

	go func() {
		drain := drainDelay
		select {
		case sig := <-sigChan:
			logger.Info("shutting down gracefully", zap.String("signal", sig.String()))
		case err := <-serveErrs:
			logger.Error("HTTP listener failed, shutting down", zap.Error(err))
			failure <- err
			drain = 0
		}

		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Give load balancers time to observe NOT_SERVING
		time.Sleep(drain)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Warn("API server shutdown", zap.Error(err))
		}
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()

		if tracerShutdown != nil {
			if err := tracerShutdown(ctx); err != nil {
				logger.Warn("tracer shutdown", zap.Error(err))
			}
		}
	}()

	logger.Info("gRPC server listening", zap.String("addr", grpcAddr))
	logger.Info(serviceName + " is ready to accept requests")

	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	select {
	case err := <-failure:
		return err
	default:
	}

	logger.Info("server shutdown complete")
	return nil
}

func newModelSource(cfg *config.Config, logger *zap.Logger) modelSource {
	if cfg.UseMockInference {
		logger.Info("using mock inference engine")
		return model.NewStatic(model.NewHandle(nil, inference.NewMockWithProba(0, []float64{0.5, 0.5})))
	}
	return model.NewLoader(cfg.ModelSearchPaths(), cfg.ModelFile, model.WithLogger(logger))
}

// newCache layers the in-process LRU in front of Redis. Either layer may be
// disabled; with both disabled every lookup is a miss.
func newCache(cfg *config.Config, logger *zap.Logger) cache.Cache {
	var layers []cache.Cache
	if cfg.CacheSize > 0 {
		layers = append(layers, cache.NewLRU(cfg.CacheSize, cfg.CacheTTL))
	}

	if cfg.Redis != "" {
		logger.Info("connecting to Redis", zap.String("addr", cfg.Redis))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rc, err := cache.NewRedis(ctx, cfg.Redis, cfg.CacheTTL)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without it", zap.Error(err))
		} else {
			layers = append(layers, rc)
			logger.Info("Redis connected")
		}
	}

	if len(layers) == 0 {
		return cache.Nop{}
	}
	return cache.NewTiered(logger, layers...)
}

func startAPIServer(cfg *config.Config, models modelSource, predictions cache.Cache, hs *health.Server, errs chan<- error, logger *zap.Logger) *http.Server {
	var predict http.Handler = handler.New(models,
		handler.WithCache(predictions),
		handler.WithLogger(logger),
		handler.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	if cfg.OTELEnabled {
		predict = otelhttp.NewHandler(predict, "POST "+handler.PredictPath)
	}

	mux := http.NewServeMux()
	mux.Handle(handler.PredictPath, middleware.Metrics("predict", predict))
	mux.Handle("/healthz", middleware.Metrics("healthz", handler.Health(hs)))
	mux.Handle("/readyz", middleware.Metrics("readyz", handler.Ready(hs, models.Loaded)))

	chain := middleware.Standard(logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           chain(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveHTTP(server, "HTTP API", errs, logger)
	return server
}

func startMetricsServer(port int, errs chan<- error, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveHTTP(server, "metrics", errs, logger)
	return server
}

// serveHTTP runs server in the background. Any failure other than a
// requested shutdown is sent on errs.
func serveHTTP(server *http.Server, name string, errs chan<- error, logger *zap.Logger) {
	go func() {
		logger.Info(name+" server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("%s server on %s: %w", name, server.Addr, err)
		}
	}()
}

func initTracer(endpoint string, logger *zap.Logger) (func(context.Context) error, error) {
	if endpoint != "" {
		// OTLP export needs a collector dependency; spans go to stdout until then.
		logger.Info("using stdout trace exporter", zap.String("otlp_endpoint", endpoint))
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
