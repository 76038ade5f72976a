// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aarutech20/indicVoice/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateSessionIfAbsent", func(t *testing.T) { testCreateIfAbsent(t, newStore(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("EndSession", func(t *testing.T) { testEndSession(t, newStore(t)) })
	t.Run("AppendAndList", func(t *testing.T) { testAppendAndList(t, newStore(t)) })
	t.Run("ListIsolatedBySession", func(t *testing.T) { testListIsolated(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	})
}

func newSession(id, lang string, at time.Time) store.Session {
	return store.Session{ID: id, LanguageCode: lang, Active: true, CreatedAt: at, UpdatedAt: at}
}

func testCreateIfAbsent(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := testNow()

	got, created, err := s.CreateSessionIfAbsent(ctx, newSession("s1", "hi", now))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Error("first create should report created")
	}
	if got.ID != "s1" || got.LanguageCode != "hi" || !got.Active {
		t.Errorf("unexpected session: %+v", got)
	}

	got, created, err = s.CreateSessionIfAbsent(ctx, newSession("s1", "ta", now.Add(time.Second)))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("second create should not report created")
	}
	if got.LanguageCode != "hi" {
		t.Errorf("language changed to %q, first writer must win", got.LanguageCode)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := testNow()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	errs := make([]error, 0)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.CreateSessionIfAbsent(ctx, newSession("race", "hi", now))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if created {
				createdCount++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("concurrent create errors: %v", errs)
	}
	if createdCount != 1 {
		t.Errorf("created reported %d times, want 1", createdCount)
	}
}

func testGetUnknown(t *testing.T, s store.Store) {
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func testEndSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := testNow()

	existed, err := s.EndSession(ctx, "missing", now)
	if err != nil {
		t.Fatalf("end unknown: %v", err)
	}
	if existed {
		t.Error("end unknown should report not existing")
	}

	if _, _, err := s.CreateSessionIfAbsent(ctx, newSession("s1", "hi", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := now.Add(time.Minute)
	existed, err = s.EndSession(ctx, "s1", later)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !existed {
		t.Error("end should report existing")
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Error("session should be inactive after end")
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}

	// An earlier end time must not move UpdatedAt backwards.
	if _, err := s.EndSession(ctx, "s1", now); err != nil {
		t.Fatalf("second end: %v", err)
	}
	got, err = s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt went backwards: %v", got.UpdatedAt)
	}
}

func testAppendAndList(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := testNow()

	if _, _, err := s.CreateSessionIfAbsent(ctx, newSession("s1", "hi", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	empty, err := s.ListResults(ctx, "s1")
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no results, got %d", len(empty))
	}

	inputs := []struct {
		chunk int
		text  string
		conf  *float64
	}{
		{2, "two", nil},
		{0, "zero", store.Float64(0.9)},
		{1, "one-a", nil},
		{1, "one-b", store.Float64(0.5)},
	}

	var lastID int64
	for i, in := range inputs {
		r, err := s.AppendResult(ctx, store.ChunkResult{
			SessionID:   "s1",
			ChunkNumber: in.chunk,
			Text:        in.text,
			Confidence:  in.conf,
			Timestamp:   now.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if r.ID <= lastID {
			t.Errorf("append %d: ID %d not greater than %d", i, r.ID, lastID)
		}
		lastID = r.ID
	}

	got, err := s.ListResults(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	wantTexts := []string{"zero", "one-a", "one-b", "two"}
	if len(got) != len(wantTexts) {
		t.Fatalf("got %d results, want %d", len(got), len(wantTexts))
	}
	for i, want := range wantTexts {
		if got[i].Text != want {
			t.Errorf("result[%d].Text = %q, want %q", i, got[i].Text, want)
		}
		if got[i].SessionID != "s1" {
			t.Errorf("result[%d].SessionID = %q", i, got[i].SessionID)
		}
	}

	if got[0].Confidence == nil || *got[0].Confidence != 0.9 {
		t.Errorf("confidence not preserved: %v", got[0].Confidence)
	}
	if got[1].Confidence != nil {
		t.Errorf("nil confidence became %v", *got[1].Confidence)
	}
	if !got[0].Timestamp.Equal(now.Add(time.Millisecond)) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, now.Add(time.Millisecond))
	}
}

func testListIsolated(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := testNow()

	for _, id := range []string{"a", "b"} {
		if _, _, err := s.CreateSessionIfAbsent(ctx, newSession(id, "hi", now)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		for chunk := 0; chunk < 3; chunk++ {
			_, err := s.AppendResult(ctx, store.ChunkResult{
				SessionID:   id,
				ChunkNumber: chunk,
				Text:        fmt.Sprintf("%s-%d", id, chunk),
				Timestamp:   now,
			})
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	}

	got, err := s.ListResults(ctx, "b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for i, r := range got {
		if want := fmt.Sprintf("b-%d", i); r.Text != want {
			t.Errorf("result[%d] = %q, want %q", i, r.Text, want)
		}
	}
}

// testNow is truncated to microseconds, the finest resolution every backend keeps.
func testNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
