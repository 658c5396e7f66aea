package mw

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/3xpluto/go-reqlog/internal/httpx"
)

// AccessLog writes one operational line per request. It serves the admin
// surface, which the trace pipeline does not record.
func AccessLog(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := httpx.NewCaptureWriter(w, 0)
		start := time.Now()
		next.ServeHTTP(cw, r)

		log.Info("admin_request",
			slog.String("route", RouteName(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", cw.Status()),
			slog.Int64("bytes", cw.BytesWritten()),
			slog.String("duration", time.Since(start).String()),
		)
	})
}
