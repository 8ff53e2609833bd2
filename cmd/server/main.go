package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
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

	"github.com/SyedDaiam9101/detector-service/internal/admission"
	"github.com/SyedDaiam9101/detector-service/internal/cache"
	"github.com/SyedDaiam9101/detector-service/internal/config"
	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/handler"
	"github.com/SyedDaiam9101/detector-service/internal/imageio"
	"github.com/SyedDaiam9101/detector-service/internal/inference"
	"github.com/SyedDaiam9101/detector-service/internal/logging"
	"github.com/SyedDaiam9101/detector-service/internal/metrics"
	"github.com/SyedDaiam9101/detector-service/internal/middleware"
)

const serviceName = "detector-service"

func main() {
	// Parse command-line flags
	port := flag.Int("port", 0, "HTTP API port (default: 8000)")
	modelPath := flag.String("model", "", "Path to ONNX model file (default: models/yolov8m.onnx)")
	redisAddr := flag.String("redis", "", "Redis address for the result cache (default: disabled)")
	metricsPort := flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	configFile := flag.String("config", "", "Path to config file (optional)")
	envFile := flag.String("env", ".env", "Path to a .env file (optional)")
	useMock := flag.Bool("mock", false, "Use mock detector (for testing)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override with flags if provided
	if *port > 0 {
		cfg.Port = *port
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *redisAddr != "" {
		cfg.Redis = *redisAddr
	}
	if *metricsPort > 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *useMock {
		cfg.UseMockInference = true
	}

	logger, err := logging.New(serviceName, cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("starting "+serviceName,
		zap.Int("port", cfg.Port),
		zap.Int("metrics_port", cfg.MetricsPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("model_path", cfg.ModelPath),
		zap.Int("infer_concurrency", cfg.InferConcurrency),
		zap.Bool("otel", cfg.OTELEnabled),
	)

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = initTracer(logger, cfg.OTELEndpoint)
		if err != nil {
			logger.Warn("failed to initialize tracer", zap.Error(err))
		} else {
			logger.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	detector := loadDetector(logger, cfg)
	defer detector.Close()

	slots := admission.New(cfg.AdmissionOptions())
	exec := inference.NewExecutor(detector, slots)

	// Initialize Redis cache (optional)
	var resultCache handler.ResultCache
	if cfg.Redis != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, err := cache.New(ctx, cfg.Redis, cfg.CacheTTL)
		cancel()
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", zap.Error(err))
		} else {
			defer c.Close()
			resultCache = c
			logger.Info("result cache enabled", zap.String("redis", cfg.Redis), zap.Duration("ttl", c.TTL()))
		}
	}

	defaults, pinned := inference.PinInputSize(detector, cfg.Params())
	if pinned {
		logger.Warn("model has a fixed input size, overriding IMGSZ",
			zap.Int("configured", cfg.ImgSize), zap.Int("imgsz", defaults.ImgSize))
	}

	h := handler.New(handler.Options{
		Executor:  exec,
		Validator: imageio.NewValidator(cfg.MaxImageBytes),
		Defaults:  defaults,
		ModelPath: cfg.ModelPath,
		ModelName: cfg.ModelName(),
		Device:    detector.Device(),
		APIKey:    cfg.APIKey,
		Cache:     resultCache,
		Logger:    logger,
	})

	// Create gRPC health server
	healthServer := health.NewServer()

	// Start HTTP server for metrics and health checks
	opsServer := startOpsServer(logger, cfg.MetricsPort, healthServer)

	var grpcServer *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcServer = startGRPCServer(logger, cfg, healthServer)
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.Metrics)
	h.Routes(router)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set health status to serving
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING) // Overall health
	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sig := <-sigChan
		logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Give time for load balancers to detect unhealthy status
		time.Sleep(5 * time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// In-flight inferences finish before the API server returns.
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Warn("API server shutdown", zap.Error(err))
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err := opsServer.Shutdown(ctx); err != nil {
			logger.Warn("ops server shutdown", zap.Error(err))
		}
		if tracerShutdown != nil {
			if err := tracerShutdown(ctx); err != nil {
				logger.Warn("tracer shutdown", zap.Error(err))
			}
		}
	}()

	logger.Info(serviceName+" is ready to accept requests", zap.String("addr", apiServer.Addr))
	if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("failed to serve", zap.Error(err))
	}
	<-shutdownDone

	logger.Info("server shutdown complete")
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithConfigFile(configFile)
	}
	return config.Load()
}

// loadDetector loads the configured detector. Failure is fatal: the service
// does not start without a model.
func loadDetector(logger *zap.Logger, cfg *config.Config) inference.Detector {
	if cfg.UseMockInference {
		logger.Info("using mock detector")
		mock := inference.NewMockWithDetections(nil)
		mock.SetDevice(inference.ResolveDevice(cfg.Device))
		return mock
	}

	var catalog detection.Catalog
	if cfg.ClassNames != "" {
		c, err := detection.LoadCatalog(cfg.ClassNames)
		if err != nil {
			logger.Fatal("failed to load class names", zap.String("path", cfg.ClassNames), zap.Error(err))
		}
		catalog = c
	}

	logger.Info("loading ONNX model", zap.String("path", cfg.ModelPath), zap.String("device", inference.ResolveDevice(cfg.Device)))
	det, err := inference.New(inference.Options{
		ModelPath:         cfg.ModelPath,
		SharedLibraryPath: cfg.ONNXRuntimeLib,
		Device:            cfg.Device,
		Catalog:           catalog,
	})
	if err != nil {
		logger.Fatal("failed to load ONNX model", zap.Error(err))
	}
	logger.Info("ONNX model loaded", zap.String("device", det.Device()), zap.Int("classes", det.Catalog().Size()))
	return det
}

func startGRPCServer(logger *zap.Logger, cfg *config.Config, healthServer *health.Server) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestIDInterceptor(),
			middleware.UnaryMetricsInterceptor(),
		),
	}
	if cfg.OTELEnabled {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	grpcServer := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable server reflection for debugging
	reflection.Register(grpcServer)

	addr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", addr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC health server listening", zap.String("addr", addr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return grpcServer
}

func startOpsServer(logger *zap.Logger, port int, healthServer *health.Server) *http.Server {
	opsMux := http.NewServeMux()

	// Prometheus metrics endpoint
	opsMux.Handle("/metrics", promhttp.Handler())

	check := func(okBody, failBody string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{})
			if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(failBody))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(okBody))
		}
	}
	opsMux.HandleFunc("/healthz", check("OK", "Service Unavailable"))
	opsMux.HandleFunc("/readyz", check("Ready", "Not Ready"))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           opsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ops server listening (metrics, health)", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	return server
}

func initTracer(logger *zap.Logger, endpoint string) (func(context.Context) error, error) {
	if endpoint != "" {
		// OTLP export needs a collector client; spans go to stdout meanwhile.
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
			semconv.ServiceVersion("1.0.0"),
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
