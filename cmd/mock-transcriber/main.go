// Command mock-transcriber is a stand-in for the remote transcription API.
// It accepts the multipart WAV upload sent by the http engine and answers
// with a canned phrase for the requested language.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aarutech20/indicVoice/internal/audio"
	"github.com/aarutech20/indicVoice/internal/transcription"
)

type transcriptionResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
}

type mock struct {
	logger *slog.Logger
	engine *transcription.DemoEngine
	apiKey string
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	apiKey := flag.String("api-key", "", "Require this bearer token when set")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := &mock{
		logger: logger,
		engine: transcription.NewDemoEngine(transcription.DemoConfig{MinLatency: *latency, MaxLatency: *latency}),
		apiKey: *apiKey,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/transcribe", m.handleTranscribe)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info("Mock transcriber listening",
		slog.String("address", *addr),
		slog.String("endpoint", "/transcribe"),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (m *mock) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if m.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+m.apiKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, "Invalid WAV file: "+err.Error(), http.StatusBadRequest)
		return
	}

	language := strings.TrimSpace(r.FormValue("language"))
	t, err := m.engine.Transcribe(r.Context(), samples, sampleRate, language)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	m.logger.Info("Transcription request",
		slog.String("request_id", r.FormValue("request_id")),
		slog.String("filename", header.Filename),
		slog.String("language", language),
		slog.Int("samples", len(samples)),
		slog.Int("sample_rate", sampleRate),
		slog.String("text", t.Text),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptionResponse{
		Text:       t.Text,
		Confidence: 0.95,
		Language:   language,
		Duration:   audio.Duration(len(samples), sampleRate),
	})
}
