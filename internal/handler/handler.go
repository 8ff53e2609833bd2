// Package handler implements the HTTP surface of the detector service.
package handler

import (
	"context"
	"io"
	"math"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/detector-service/internal/apperr"
	"github.com/SyedDaiam9101/detector-service/internal/cache"
	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/imageio"
	"github.com/SyedDaiam9101/detector-service/internal/inference"
	"github.com/SyedDaiam9101/detector-service/internal/metrics"
	"github.com/SyedDaiam9101/detector-service/internal/middleware"
)

// FileField is the multipart field carrying the image.
const FileField = "file"

// ResultCache stores formatted detections keyed by image content.
type ResultCache interface {
	GetDetections(ctx context.Context, key string) ([]detection.Formatted, bool, error)
	SetDetections(ctx context.Context, key string, dets []detection.Formatted) error
}

// Options configures a Handler.
type Options struct {
	Executor  *inference.Executor
	Validator *imageio.Validator
	// Defaults fill any parameter the request leaves out.
	Defaults  inference.Params
	ModelPath string
	// ModelName is reported in /infer responses. Empty uses the base name
	// of ModelPath.
	ModelName string
	// Device is reported by /health when no detector is loaded.
	Device string
	APIKey string
	// Cache is optional.
	Cache  ResultCache
	Logger *zap.Logger
}

// Handler serves /health and /infer.
type Handler struct {
	exec      *inference.Executor
	validator *imageio.Validator
	defaults  inference.Params
	modelPath string
	modelName string
	device    string
	apiKey    string
	cache     ResultCache
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates a new Handler.
func New(opts Options) *Handler {
	if opts.Validator == nil {
		opts.Validator = imageio.NewValidator(0)
	}
	if opts.Executor == nil {
		opts.Executor = inference.NewExecutor(nil, nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	device := opts.Device
	if d := opts.Executor.Detector(); d != nil {
		device = d.Device()
	}

	if opts.ModelName == "" {
		opts.ModelName = filepath.Base(opts.ModelPath)
	}

	return &Handler{
		exec:      opts.Executor,
		validator: opts.Validator,
		defaults:  opts.Defaults,
		modelPath: opts.ModelPath,
		modelName: opts.ModelName,
		device:    device,
		apiKey:    opts.APIKey,
		cache:     opts.Cache,
		logger:    opts.Logger,
		tracer:    otel.Tracer("detector-service/handler"),
	}
}

// Routes registers the service endpoints on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	infer := r.Path("/infer").Subrouter()
	infer.Use(middleware.APIKey(h.apiKey, h.unauthorized))
	infer.Methods(http.MethodPost).HandlerFunc(h.Infer)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	ModelPath   string `json:"model_path"`
}

// Health reports whether the model is loaded. It never touches the detector.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		ModelLoaded: h.exec.Detector() != nil,
		Device:      h.device,
		ModelPath:   h.modelPath,
	})
}

// ImageInfo describes the decoded upload.
type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Bytes  int `json:"bytes"`
}

// InferResponse is the body of a successful POST /infer.
type InferResponse struct {
	Model      string                `json:"model"`
	Device     string                `json:"device"`
	Image      ImageInfo             `json:"image"`
	Params     inference.Params      `json:"params"`
	Detections []detection.Formatted `json:"detections"`
	LatencyMs  float64               `json:"latency_ms"`
	Cached     bool                  `json:"cached,omitempty"`
}

// Infer validates the upload, runs the detector under admission control and
// returns the formatted detections.
func (h *Handler) Infer(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Infer")
	defer span.End()

	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = "unknown"
	}
	logger := h.logger.With(zap.String("request_id", requestID))

	resp, err := h.infer(ctx, r)
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.RecordRejection(string(kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		if kind == apperr.InferenceFailure {
			logger.Error("inference failed", zap.Error(err))
		} else {
			logger.Info("request rejected", zap.String("kind", string(kind)), zap.Error(err))
		}
		sendErrorResponse(w, err)
		return
	}

	span.SetAttributes(
		attribute.Int("detections", len(resp.Detections)),
		attribute.Bool("cached", resp.Cached),
	)
	logger.Debug("inference complete",
		zap.Int("detections", len(resp.Detections)),
		zap.Float64("latency_ms", resp.LatencyMs),
		zap.Bool("cached", resp.Cached),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) infer(ctx context.Context, r *http.Request) (*InferResponse, error) {
	if h.exec.Detector() == nil {
		return nil, apperr.New(apperr.ModelUnavailable, "Model not loaded")
	}

	params, err := h.params(r)
	if err != nil {
		return nil, err
	}
	if err := h.exec.CheckParams(params); err != nil {
		return nil, err
	}

	data, contentType, err := h.readUpload(r)
	if err != nil {
		return nil, err
	}

	_, span := h.tracer.Start(ctx, "Validate")
	img, err := h.validator.Validate(data, contentType)
	span.End()
	if err != nil {
		return nil, err
	}

	resp := &InferResponse{
		Model:  h.modelName,
		Device: h.device,
		Image:  ImageInfo{Width: img.Width, Height: img.Height, Bytes: img.Bytes},
		Params: params,
	}

	key := ""
	if h.cache != nil {
		key = cache.Key(data, params, resp.Model)
		start := time.Now()
		if dets, ok := h.lookup(ctx, key); ok {
			resp.Detections = dets
			resp.LatencyMs = millis(time.Since(start))
			resp.Cached = true
			return resp, nil
		}
	}

	runCtx, span := h.tracer.Start(ctx, "Detect")
	out, err := h.exec.Run(runCtx, img.Image, params)
	span.SetAttributes(attribute.Int64("slot_wait_us", out.SlotWait.Microseconds()))
	span.End()
	if err != nil {
		return nil, err
	}

	resp.Detections = detection.Format(out.Detections, h.exec.Detector().Catalog())
	resp.LatencyMs = millis(out.Latency)

	if h.cache != nil {
		if err := h.cache.SetDetections(ctx, key, resp.Detections); err != nil {
			h.logger.Warn("failed to cache detections", zap.Error(err))
		}
	}
	return resp, nil
}

func (h *Handler) lookup(ctx context.Context, key string) ([]detection.Formatted, bool) {
	dets, ok, err := h.cache.GetDetections(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheLookup("error")
		h.logger.Warn("result cache lookup failed", zap.Error(err))
		return nil, false
	case ok:
		metrics.RecordCacheLookup("hit")
		return dets, true
	default:
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
}

// params resolves the request overrides against the defaults. Malformed or
// out-of-range values are rejected.
func (h *Handler) params(r *http.Request) (inference.Params, error) {
	p := h.defaults
	q := r.URL.Query()

	if s := q.Get("conf"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !(v >= 0 && v <= 1) {
			return p, invalidParameterError("conf must be a number in [0, 1]")
		}
		p.Conf = v
	}
	if s := q.Get("iou"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !(v >= 0 && v <= 1) {
			return p, invalidParameterError("iou must be a number in [0, 1]")
		}
		p.IoU = v
	}
	if s := q.Get("imgsz"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 32 || v > 2048 {
			return p, invalidParameterError("imgsz must be an integer in [32, 2048]")
		}
		p.ImgSize = v
	}
	return p, nil
}

// readUpload streams the multipart body and returns the file part, reading
// at most one byte past the size limit.
func (h *Handler) readUpload(r *http.Request) ([]byte, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, "", invalidParameterError("Request must be multipart/form-data with a %q field", FileField)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, "", invalidParameterError("Malformed multipart body")
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, "", invalidParameterError("Missing %q field", FileField)
		}
		if err != nil {
			return nil, "", invalidParameterError("Malformed multipart body")
		}
		if part.FormName() != FileField {
			_ = part.Close()
			continue
		}

		contentType := part.Header.Get("Content-Type")
		if err := imageio.CheckContentType(contentType); err != nil {
			_ = part.Close()
			return nil, "", err
		}

		data, err := imageio.ReadLimited(part, h.validator.MaxBytes)
		_ = part.Close()
		if err != nil {
			return nil, "", invalidParameterError("Failed to read upload")
		}
		return data, contentType, nil
	}
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	err := apperr.New(apperr.Unauthorized, "Invalid API key")
	metrics.RecordRejection(string(apperr.Unauthorized))
	sendErrorResponse(w, err)
}

// millis converts d to milliseconds rounded to two decimals.
func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
