package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"flightdelay/flight"
	"flightdelay/ml"
	"flightdelay/monitoring"
	"flightdelay/pipeline"
)

// Predictor 预测器接口，由 *ml.Session 实现
type Predictor interface {
	Encode(r *flight.Record) ([]float64, error)
	Predict(ctx context.Context, features []float64) (ml.Prediction, error)
	Schema() ml.FeatureSchema
}

// PredictResponse 预测响应
type PredictResponse struct {
	IsDelayed    int     `json:"is_delayed"`
	Probability  float64 `json:"probability"`
	ModelVersion string  `json:"model_version"`
}

// Handlers 预测服务的路由处理器
type Handlers struct {
	predictor    Predictor
	cache        *lru.Cache[string, ml.Prediction]
	metrics      *monitoring.MetricsCollector
	hub          *monitoring.WebSocketHub
	modelVersion string
	started      time.Time
}

// HandlersConfig 处理器依赖
type HandlersConfig struct {
	Predictor    Predictor
	Metrics      *monitoring.MetricsCollector
	Hub          *monitoring.WebSocketHub
	ModelVersion string
	CacheSize    int
}

// NewHandlers 创建处理器，CacheSize 为 0 时关闭预测缓存
func NewHandlers(cfg HandlersConfig) (*Handlers, error) {
	if cfg.Predictor == nil {
		return nil, errors.New("handlers need a predictor")
	}
	h := &Handlers{
		predictor:    cfg.Predictor,
		metrics:      cfg.Metrics,
		hub:          cfg.Hub,
		modelVersion: cfg.ModelVersion,
		started:      time.Now(),
	}
	if h.metrics == nil {
		h.metrics = monitoring.NewMetricsCollector()
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, ml.Prediction](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		h.cache = cache
	}
	return h, nil
}

// Register 注册所有路由
func (h *Handlers) Register(mux *http.ServeMux, requestTimeout time.Duration) {
	timeout := TimeoutMiddleware(requestTimeout)
	mux.Handle("POST /predict", timeout(http.HandlerFunc(h.handlePredict)))
	mux.Handle("GET /health", timeout(http.HandlerFunc(h.handleHealth)))
	mux.Handle("GET /metrics", timeout(http.HandlerFunc(h.handleMetrics)))
	// websocket 连接不受请求超时限制
	if h.hub != nil {
		mux.HandleFunc("GET /ws/metrics", h.hub.HandleWebSocket)
	}
}

// handlePredict 处理单条航班的延误预测
func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.metrics.IncrCounter("requests_total", 1)
	defer func() { h.metrics.RecordLatency("predict", time.Since(start)) }()

	var record flight.Record
	if status, err := decodeRecord(r.Body, &record); err != nil {
		h.fail(w, r, status, err)
		return
	}
	record.Normalize()
	if err := pipeline.ValidateRecord(&record, h.predictor.Schema()); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	features, err := h.predictor.Encode(&record)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}

	pred, err := h.predict(r.Context(), features)
	if err != nil {
		zap.L().Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		h.fail(w, r, http.StatusInternalServerError, errors.New("prediction failed"))
		return
	}

	h.metrics.IncrCounter("predictions_total", 1)
	h.metrics.IncrCounter("predictions_label_"+strconv.Itoa(pred.Label), 1)
	writeJSON(w, r, http.StatusOK, PredictResponse{
		IsDelayed:    pred.Label,
		Probability:  pred.Probability,
		ModelVersion: h.modelVersion,
	})
}

// predict 先查缓存，按特征向量命中
func (h *Handlers) predict(ctx context.Context, features []float64) (ml.Prediction, error) {
	if h.cache == nil {
		return h.predictor.Predict(ctx, features)
	}
	key := featureKey(features)
	if pred, ok := h.cache.Get(key); ok {
		h.metrics.IncrCounter("cache_hits", 1)
		return pred, nil
	}
	h.metrics.IncrCounter("cache_misses", 1)
	pred, err := h.predictor.Predict(ctx, features)
	if err != nil {
		return ml.Prediction{}, err
	}
	h.cache.Add(key, pred)
	return pred, nil
}

// handleHealth 健康检查
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"model_version": h.modelVersion,
		"uptime":        time.Since(h.started).Round(time.Second).String(),
	})
}

// handleMetrics 返回指标快照
func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	payload, err := h.metrics.ExportJSON()
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.metrics.IncrCounter("errors_total", 1)
	h.metrics.IncrCounter("errors_"+strconv.Itoa(status), 1)
	zap.L().Debug("rejected request",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Int("status", status),
		zap.Error(err),
	)
	writeError(w, r, status, err.Error())
}

// decodeRecord 解析请求体：单个JSON对象，拒绝未知字段
func decodeRecord(body io.Reader, record *flight.Record) (int, error) {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(record); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return http.StatusBadRequest, errors.New("request body is empty")
		}
		return http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return http.StatusBadRequest, errors.New("request body must contain a single JSON object")
	}
	return 0, nil
}

func featureKey(features []float64) string {
	var b strings.Builder
	b.Grow(len(features) * 4)
	buf := make([]byte, 0, 24)
	for i, v := range features {
		if i > 0 {
			b.WriteByte(',')
		}
		buf = strconv.AppendFloat(buf[:0], v, 'g', -1, 64)
		b.Write(buf)
	}
	return b.String()
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
