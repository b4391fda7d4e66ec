// Package handlers implements the edge conversion endpoint: one HEIC image
// in the request body, the encoded output in the response body.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"heicConverter/converter/codec"
	"heicConverter/edge/metrics"
	"heicConverter/edge/middleware"
	"heicConverter/edge/validation"
)

type ConvertHandler struct {
	codec       codec.Codec
	logger      *zap.Logger
	maxBodySize int64
}

func NewConvertHandler(c codec.Codec, logger *zap.Logger, maxBodySize int64) *ConvertHandler {
	return &ConvertHandler{
		codec:       c,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.respondError(w, r, "Method not allowed", nil, http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	opts, err := validation.Options(query.Get("quality"), query.Get("fast"), query.Get("format"))
	if err != nil {
		metrics.ConversionsTotal.WithLabelValues("bad_request").Inc()
		h.respondError(w, r, "Invalid options", err, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		metrics.ConversionsTotal.WithLabelValues("read_error").Inc()
		h.respondError(w, r, "Failed to read body", err, http.StatusBadRequest)
		return
	}

	if err := validation.Body(body, h.maxBodySize); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, validation.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		metrics.ConversionsTotal.WithLabelValues("rejected").Inc()
		h.respondError(w, r, "Invalid input", err, status)
		return
	}

	metrics.ConversionsInFlight.Inc()
	start := time.Now()
	result, err := h.codec.Encode(r.Context(), body, opts, nil)
	metrics.ConversionsInFlight.Dec()

	if err != nil {
		metrics.ConversionsTotal.WithLabelValues("failed").Inc()
		h.respondError(w, r, "Conversion failed", err, http.StatusUnprocessableEntity)
		return
	}

	metrics.ConversionsTotal.WithLabelValues("success").Inc()
	metrics.ConversionDuration.Observe(time.Since(start).Seconds())

	middleware.Logger(r.Context(), h.logger).Info("Converted image",
		zap.Int("input_bytes", len(body)),
		zap.Int("output_bytes", len(result.Data)),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
	)

	contentType := "image/jpeg"
	if opts.Format == "png" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

func (h *ConvertHandler) respondError(w http.ResponseWriter, r *http.Request, message string, err error, status int) {
	middleware.Logger(r.Context(), h.logger).Warn(message, zap.Error(err))

	detail := message
	if err != nil {
		detail = message + ": " + err.Error()
	}
	middleware.WriteError(w, status, detail, middleware.GetTraceID(r.Context()))
}
