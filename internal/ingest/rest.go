package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"safeguard/internal/config"
)

const sourceREST = "rest"

// RESTServer accepts single records or arrays of records and queues them
// for scoring without waiting for results.
type RESTServer struct {
	emit   *Emitter
	logger *slog.Logger
}

func NewRESTServer(emit *Emitter, logger *slog.Logger) *RESTServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTServer{emit: emit, logger: logger}
}

func (s *RESTServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/telemetry", s.handleTelemetry)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func StartREST(ctx context.Context, cfg *config.Manager, emit *Emitter, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		logger.Info("rest ingest disabled")
		return nil
	}
	logger.Info("rest ingest enabled", "addr", current.Addr)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTServer(emit, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rest ingest server error", "error", err)
		}
	}()
	return httpServer
}

func (s *RESTServer) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	var records []map[string]any
	if body[0] == '[' {
		err = decodeJSON(body, &records)
	} else {
		var obj map[string]any
		err = decodeJSON(body, &obj)
		records = append(records, obj)
	}
	if err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	accepted, failed := 0, 0
	for _, obj := range records {
		fields := ParseJSONMap(obj)
		fields.Raw = sourceREST
		if err := s.emit.Emit(r.Context(), fields, sourceREST); err != nil {
			failed++
			continue
		}
		accepted++
	}

	w.Header().Set("Content-Type", "application/json")
	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
	})
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}
