package main

import (
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"heicConverter/converter/codec"
	"heicConverter/edge/config"
	"heicConverter/edge/handlers"
	"heicConverter/edge/metrics"
	"heicConverter/edge/middleware"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	logger.Info("Edge conversion service starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	convert := handlers.NewConvertHandler(codec.NewHEIF(logger), logger, cfg.MaxBodySize)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/convert", convert.Convert)

	handler := middleware.Trace(logger)(
		middleware.Logging(logger)(
			middleware.Recovery(logger)(mux),
		),
	)

	logger.Info("Server started", zap.String("address", ":"+cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}
