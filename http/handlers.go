package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"minedetect/mine"
	"minedetect/ml"
	"minedetect/monitoring"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// Detector 检测服务
type Detector interface {
	Detect(ctx context.Context, req mine.PredictionRequest) (*mine.Detection, error)
	Parameters() mine.Parameters
	Distribution() []mine.ClassSummary
}

// DetectionLog 内存中的最近检测记录
type DetectionLog interface {
	Recent(n int) []mine.Detection
	Get(id string) (mine.Detection, bool)
}

// AuditLog 持久化的检测审计记录
type AuditLog interface {
	Recent(ctx context.Context, limit int) ([]mine.Detection, error)
}

// Metrics 检测指标
type Metrics interface {
	Snapshot() monitoring.MetricsSnapshot
	ExportPrometheus() string
}

// Handler API处理器
type Handler struct {
	detector Detector
	history  DetectionLog
	audit    AuditLog
	metrics  Metrics
	logger   *zap.Logger
}

// NewHandler 创建API处理器，history 与 audit 可为 nil
func NewHandler(detector Detector, history DetectionLog, audit AuditLog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{detector: detector, history: history, audit: audit, logger: logger}
}

// SetMetrics 设置指标来源，未设置时指标端点返回404
func (h *Handler) SetMetrics(metrics Metrics) {
	h.metrics = metrics
}

// Register 注册路由
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/parameters", h.handleParameters)
	mux.HandleFunc("POST /api/detect", h.handleDetect)
	mux.HandleFunc("GET /api/distribution", h.handleDistribution)
	mux.HandleFunc("GET /api/detections/recent", h.handleRecent)
	mux.HandleFunc("GET /api/detections/{id}", h.handleDetection)
	mux.HandleFunc("GET /api/audit/detections", h.handleAudit)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/metrics/summary", h.handleMetricsSummary)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"samples": h.detector.Parameters().Samples,
	})
}

func (h *Handler) handleParameters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.detector.Parameters())
}

func (h *Handler) handleDistribution(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.detector.Distribution())
}

// detectRequest 字段使用指针以区分缺失与零值
type detectRequest struct {
	Voltage *float64 `json:"voltage"`
	Height  *float64 `json:"height"`
	Soil    *float64 `json:"soil"`
}

func (req detectRequest) toPrediction() (mine.PredictionRequest, error) {
	var missing []string
	if req.Voltage == nil {
		missing = append(missing, "voltage")
	}
	if req.Height == nil {
		missing = append(missing, "height")
	}
	if req.Soil == nil {
		missing = append(missing, "soil")
	}
	if len(missing) > 0 {
		return mine.PredictionRequest{}, errors.New("missing field(s): " + strings.Join(missing, ", "))
	}
	return mine.PredictionRequest{Voltage: *req.Voltage, Height: *req.Height, Soil: *req.Soil}, nil
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var body detectRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: trailing data after JSON object")
		return
	}
	req, err := body.toPrediction()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detection, err := h.detector.Detect(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("detect failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, detection)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "detection history disabled")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.history.Recent(limit))
}

func (h *Handler) handleDetection(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "detection history disabled")
		return
	}
	detection, ok := h.history.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "detection not found")
		return
	}
	respondJSON(w, http.StatusOK, detection)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit store disabled")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detections, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("query audit store failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query audit store failed")
		return
	}
	if detections == nil {
		detections = []mine.Detection{}
	}
	respondJSON(w, http.StatusOK, detections)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.metrics.ExportPrometheus()))
}

func (h *Handler) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	respondJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultRecentLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return limit, nil
}

// statusFor 将领域错误映射为HTTP状态码，未知类别 (*mine.UnknownLabelError) 属于服务端错误
func statusFor(err error) int {
	switch {
	case errors.Is(err, mine.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrPipelineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
