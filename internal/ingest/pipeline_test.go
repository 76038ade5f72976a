package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aarutech20/indicVoice/internal/apperr"
	"github.com/aarutech20/indicVoice/internal/audio"
	"github.com/aarutech20/indicVoice/internal/language"
	"github.com/aarutech20/indicVoice/internal/publish"
	"github.com/aarutech20/indicVoice/internal/session"
	"github.com/aarutech20/indicVoice/internal/store"
	"github.com/aarutech20/indicVoice/internal/store/sqlite"
	"github.com/aarutech20/indicVoice/internal/transcription"
)

// stubEngine returns text for audible input and "" for silence. When entered
// is set it signals on every call; when release is set it waits for it.
type stubEngine struct {
	text       string
	confidence *float64
	err        error
	ignoreCtx  bool
	entered    chan struct{}
	release    chan struct{}
	calls      atomic.Int32
}

func (s *stubEngine) Transcribe(ctx context.Context, samples []float32, _ int, _ string) (*transcription.Transcript, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		if s.ignoreCtx {
			<-s.release
		} else {
			select {
			case <-s.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if audio.IsSilent(samples) {
		return &transcription.Transcript{}, nil
	}
	return &transcription.Transcript{Text: s.text, Confidence: s.confidence}, nil
}

func (s *stubEngine) Ready(context.Context) bool { return true }
func (s *stubEngine) Name() string               { return "stub" }

type recordingPublisher struct {
	mu     sync.Mutex
	events []publish.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e publish.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

type fixture struct {
	pipeline *Pipeline
	registry *session.Registry
	store    store.Store
	engine   *stubEngine
}

func newFixture(t *testing.T, engine *stubEngine, mutate func(*Dependencies, *Config)) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := session.NewRegistry(st, logger, nil, session.Config{})
	deps := Dependencies{
		Registry:  registry,
		Store:     st,
		Engine:    engine,
		Languages: language.Default(),
		Logger:    logger,
	}
	cfg := Config{}
	if mutate != nil {
		mutate(&deps, &cfg)
	}

	p, err := NewPipeline(deps, cfg)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return &fixture{pipeline: p, registry: registry, store: st, engine: engine}
}

func tone(n int) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.3
	}
	return audio.EncodeFloat32LE(samples)
}

func silence(n int) []byte {
	return audio.EncodeFloat32LE(make([]float32, n))
}

func texts(results []store.ChunkResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = fmt.Sprintf("%d:%s", r.ChunkNumber, r.Text)
	}
	return out
}

func TestIngestSessionLifecycle(t *testing.T) {
	f := newFixture(t, &stubEngine{text: "X"}, nil)
	ctx := context.Background()

	if _, _, err := f.registry.CreateOrGet(ctx, "s1", "hi"); err != nil {
		t.Fatalf("CreateOrGet() error = %v", err)
	}

	r0, err := f.pipeline.Ingest(ctx, Request{SessionID: "s1", LanguageCode: "hi", ChunkNumber: 0, Audio: silence(1600)})
	if err != nil {
		t.Fatalf("Ingest(chunk 0) error = %v", err)
	}
	if r0.ChunkNumber != 0 || r0.Text != "" {
		t.Errorf("chunk 0 = %+v, want empty text", r0)
	}

	r1, err := f.pipeline.Ingest(ctx, Request{SessionID: "s1", LanguageCode: "hi", ChunkNumber: 1, Audio: tone(1600)})
	if err != nil {
		t.Fatalf("Ingest(chunk 1) error = %v", err)
	}
	if r1.ChunkNumber != 1 || r1.Text != "X" {
		t.Errorf("chunk 1 = %+v, want text X", r1)
	}
	if r1.LanguageName != "Hindi" {
		t.Errorf("LanguageName = %q, want Hindi", r1.LanguageName)
	}

	results, err := f.pipeline.ListResults(ctx, "s1")
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if got, want := strings.Join(texts(results), ","), "0:,1:X"; got != want {
		t.Errorf("results = %s, want %s", got, want)
	}

	if err := f.registry.End(ctx, "s1"); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	r2, err := f.pipeline.Ingest(ctx, Request{SessionID: "s1", LanguageCode: "hi", ChunkNumber: 2, Audio: tone(160)})
	if err != nil {
		t.Fatalf("Ingest after end error = %v", err)
	}
	if r2.ChunkNumber != 2 {
		t.Errorf("chunk 2 = %+v", r2)
	}

	results, err = f.pipeline.ListResults(ctx, "s1")
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results after late chunk, want 3", len(results))
	}

	sess, err := f.registry.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Active {
		t.Error("late chunk must not reactivate the session")
	}
}

func TestIngestValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"unsupported language", Request{SessionID: "v1", LanguageCode: "xx", Audio: tone(10)}},
		{"empty language", Request{SessionID: "v1", LanguageCode: "", Audio: tone(10)}},
		{"odd byte length", Request{SessionID: "v1", LanguageCode: "hi", Audio: []byte{1, 2, 3, 4, 5}}},
		{"non-finite sample", Request{SessionID: "v1", LanguageCode: "hi", Audio: []byte{0, 0, 0x80, 0x7f}}},
		{"negative chunk", Request{SessionID: "v1", LanguageCode: "hi", ChunkNumber: -1, Audio: tone(10)}},
		{"negative sample rate", Request{SessionID: "v1", LanguageCode: "hi", SampleRate: -8000, Audio: tone(10)}},
		{"missing session id", Request{LanguageCode: "hi", Audio: tone(10)}},
		{"oversized chunk", Request{SessionID: "v1", LanguageCode: "hi", Audio: tone(64)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{text: "X"}
			f := newFixture(t, engine, func(_ *Dependencies, c *Config) { c.MaxChunkBytes = 128 })

			_, err := f.pipeline.Ingest(context.Background(), tt.req)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("Ingest() error = %v, want Validation", err)
			}
			if engine.calls.Load() != 0 {
				t.Error("engine must not be called on invalid input")
			}
			if _, err := f.registry.Get(context.Background(), "v1"); !apperr.IsKind(err, apperr.KindNotFound) {
				t.Errorf("session created despite validation failure: %v", err)
			}
		})
	}
}

func TestIngestUnsupportedLanguageMessage(t *testing.T) {
	f := newFixture(t, &stubEngine{}, nil)
	_, err := f.pipeline.Ingest(context.Background(), Request{SessionID: "s1", LanguageCode: "xx", Audio: tone(4)})
	if err == nil || !strings.Contains(err.Error(), "Unsupported language code: xx") {
		t.Fatalf("Ingest() error = %v", err)
	}
}

func TestIngestEmptyAudioSkipsEngine(t *testing.T) {
	engine := &stubEngine{text: "X"}
	f := newFixture(t, engine, nil)

	r, err := f.pipeline.Ingest(context.Background(), Request{SessionID: "e1", LanguageCode: "ta", ChunkNumber: 0})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if r.Text != "" {
		t.Errorf("Text = %q, want empty", r.Text)
	}
	if engine.calls.Load() != 0 {
		t.Error("engine called for empty audio")
	}

	sess, err := f.registry.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("empty chunk should still open the session: %v", err)
	}
	if sess.LanguageCode != "ta" {
		t.Errorf("LanguageCode = %q, want ta", sess.LanguageCode)
	}
}

func TestIngestRecordsThenReportsEngineFailure(t *testing.T) {
	engine := &stubEngine{err: errors.New("model crashed")}
	f := newFixture(t, engine, nil)
	ctx := context.Background()

	r, err := f.pipeline.Ingest(ctx, Request{SessionID: "f1", LanguageCode: "hi", ChunkNumber: 4, Audio: tone(10)})
	if !apperr.IsKind(err, apperr.KindTranscriptionFailed) {
		t.Fatalf("Ingest() error = %v, want TranscriptionFailed", err)
	}
	if r == nil {
		t.Fatal("expected the recorded result alongside the error")
	}
	if r.Text != "[Transcription error: model crashed]" {
		t.Errorf("Text = %q", r.Text)
	}

	results, err := f.pipeline.ListResults(ctx, "f1")
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != 1 || results[0].ChunkNumber != 4 || results[0].Text != r.Text {
		t.Errorf("results = %v", texts(results))
	}
}

func TestIngestOrderingAndDuplicates(t *testing.T) {
	f := newFixture(t, &stubEngine{text: "X"}, nil)
	ctx := context.Background()

	for _, chunk := range []int{3, 1, 2, 1, 0} {
		if _, err := f.pipeline.Ingest(ctx, Request{SessionID: "o1", LanguageCode: "hi", ChunkNumber: chunk, Audio: tone(4)}); err != nil {
			t.Fatalf("Ingest(%d) error = %v", chunk, err)
		}
	}

	results, err := f.pipeline.ListResults(ctx, "o1")
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}

	want := []int{0, 1, 1, 2, 3}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, chunk := range want {
		if results[i].ChunkNumber != chunk {
			t.Errorf("results[%d].ChunkNumber = %d, want %d", i, results[i].ChunkNumber, chunk)
		}
	}
	if results[1].ID >= results[2].ID {
		t.Errorf("duplicate chunk results out of insertion order: %d, %d", results[1].ID, results[2].ID)
	}
}

func TestIngestConcurrentChunks(t *testing.T) {
	f := newFixture(t, &stubEngine{text: "X"}, nil)
	ctx := context.Background()

	const chunks = 24
	var wg sync.WaitGroup
	for i := 0; i < chunks; i++ {
		wg.Add(1)
		go func(chunk int) {
			defer wg.Done()
			sessionID := "c1"
			if chunk%2 == 1 {
				sessionID = "c2"
			}
			if _, err := f.pipeline.Ingest(ctx, Request{SessionID: sessionID, LanguageCode: "bn", ChunkNumber: chunk, Audio: tone(8)}); err != nil {
				t.Errorf("Ingest(%s, %d) error = %v", sessionID, chunk, err)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"c1", "c2"} {
		results, err := f.pipeline.ListResults(ctx, id)
		if err != nil {
			t.Fatalf("ListResults(%s) error = %v", id, err)
		}
		if len(results) != chunks/2 {
			t.Fatalf("%s: got %d results, want %d", id, len(results), chunks/2)
		}
		for i := 1; i < len(results); i++ {
			if results[i-1].ChunkNumber > results[i].ChunkNumber {
				t.Errorf("%s: results out of order at %d", id, i)
			}
		}
	}
}

func TestIngestCancelledBeforeStart(t *testing.T) {
	engine := &stubEngine{text: "X"}
	f := newFixture(t, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Ingest(ctx, Request{SessionID: "k1", LanguageCode: "hi", Audio: tone(4)})
	if !apperr.IsKind(err, apperr.KindCancelled) {
		t.Fatalf("Ingest() error = %v, want Cancelled", err)
	}
	if _, err := f.registry.Get(context.Background(), "k1"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("session created by cancelled ingest: %v", err)
	}
}

func TestIngestCancelledDuringTranscription(t *testing.T) {
	engine := &stubEngine{text: "X", entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Ingest(ctx, Request{SessionID: "k2", LanguageCode: "hi", Audio: tone(4)})
		done <- err
	}()

	<-engine.entered
	cancel()

	if err := <-done; !apperr.IsKind(err, apperr.KindCancelled) {
		t.Fatalf("Ingest() error = %v, want Cancelled", err)
	}

	results, err := f.pipeline.ListResults(context.Background(), "k2")
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("cancelled ingest wrote %d results", len(results))
	}
}

func TestIngestPersistsCompletedTranscriptAfterCancel(t *testing.T) {
	engine := &stubEngine{text: "late", ignoreCtx: true, entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Ingest(ctx, Request{SessionID: "k3", LanguageCode: "hi", Audio: tone(4)})
		done <- err
	}()

	<-engine.entered
	cancel()
	close(engine.release)

	if err := <-done; err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	results, err := f.pipeline.ListResults(context.Background(), "k3")
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != 1 || results[0].Text != "late" {
		t.Errorf("results = %v, want the completed transcript", texts(results))
	}
}

func TestIngestHoldsNoLockDuringTranscription(t *testing.T) {
	engine := &stubEngine{text: "X", entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, engine, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Ingest(context.Background(), Request{SessionID: "l1", LanguageCode: "hi", Audio: tone(4)})
		done <- err
	}()
	<-engine.entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.registry.End(ctx, "l1"); err != nil {
		t.Fatalf("End() blocked by in-flight transcription: %v", err)
	}

	close(engine.release)
	if err := <-done; err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
}

func TestListResults(t *testing.T) {
	f := newFixture(t, &stubEngine{}, nil)
	ctx := context.Background()

	if _, err := f.pipeline.ListResults(ctx, "missing"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("ListResults(missing) error = %v, want NotFound", err)
	}

	if _, _, err := f.registry.CreateOrGet(ctx, "empty", "ml"); err != nil {
		t.Fatalf("CreateOrGet() error = %v", err)
	}
	results, err := f.pipeline.ListResults(ctx, "empty")
	if err != nil {
		t.Fatalf("ListResults(empty) error = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", results)
	}

	sr, err := f.pipeline.SessionResults(ctx, "empty")
	if err != nil {
		t.Fatalf("SessionResults() error = %v", err)
	}
	if sr.LanguageName != "Malayalam" {
		t.Errorf("LanguageName = %q, want Malayalam", sr.LanguageName)
	}
}

func TestIngestPublishesEvents(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	f := newFixture(t, &stubEngine{text: "X", confidence: store.Float64(0.9)}, func(d *Dependencies, _ *Config) {
		d.Publisher = pub
	})

	r, err := f.pipeline.Ingest(context.Background(), Request{SessionID: "p1", LanguageCode: "gu", ChunkNumber: 7, Audio: tone(4)})
	if err != nil {
		t.Fatalf("publish failure must not fail ingest: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("got %d events, want 1", len(pub.events))
	}
	e := pub.events[0]
	if e.SessionID != "p1" || e.ChunkNumber != 7 || e.ResultID != r.ID || e.LanguageCode != "gu" || e.Failed {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Confidence == nil || *e.Confidence != 0.9 {
		t.Errorf("event confidence = %v", e.Confidence)
	}
}

func TestIngestDropsOutOfRangeConfidence(t *testing.T) {
	f := newFixture(t, &stubEngine{text: "X", confidence: store.Float64(1.7)}, nil)

	r, err := f.pipeline.Ingest(context.Background(), Request{SessionID: "q1", LanguageCode: "hi", Audio: tone(4)})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if r.Confidence != nil {
		t.Errorf("Confidence = %v, want nil", *r.Confidence)
	}
	if r.Text != "X" {
		t.Errorf("Text = %q, want X", r.Text)
	}
}

func TestNewPipelineRequiresDependencies(t *testing.T) {
	if _, err := NewPipeline(Dependencies{}, Config{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestStartSession(t *testing.T) {
	f := newFixture(t, &stubEngine{text: "x"}, nil)
	ctx := context.Background()

	sess, created, err := f.pipeline.StartSession(ctx, "ws1", "ta")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if !created || sess.LanguageCode != "ta" || !sess.Active {
		t.Fatalf("StartSession() = %+v, created=%v", sess, created)
	}

	sess, created, err = f.pipeline.StartSession(ctx, "ws1", "hi")
	if err != nil {
		t.Fatalf("second StartSession() error = %v", err)
	}
	if created || sess.LanguageCode != "ta" {
		t.Errorf("second StartSession() = %+v, created=%v; want existing ta session", sess, created)
	}

	tests := []struct {
		name string
		id   string
		lang string
	}{
		{"empty id", "", "hi"},
		{"unsupported language", "ws2", "xx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.pipeline.StartSession(ctx, tt.id, tt.lang)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("StartSession() error = %v, want validation error", err)
			}
		})
	}
	if _, err := f.pipeline.GetSession(ctx, "ws2"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("rejected session was created: %v", err)
	}
}

func TestEndSessionViaPipeline(t *testing.T) {
	f := newFixture(t, &stubEngine{text: "x"}, nil)
	ctx := context.Background()

	if err := f.pipeline.EndSession(ctx, "missing"); err != nil {
		t.Fatalf("EndSession(unknown) error = %v", err)
	}
	if _, _, err := f.pipeline.StartSession(ctx, "s1", "hi"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := f.pipeline.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	sess, err := f.pipeline.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Active {
		t.Error("session still active after EndSession")
	}
}
