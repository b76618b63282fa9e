package solve

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/astrometry"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// novaState drives the fake service through the submitted → processing →
// terminal progression.
type novaState struct {
	jobVisible atomic.Bool
	jobStatus  atomic.Value // string
	badSession atomic.Bool  // reject the next upload's session once
}

func fakeNova(t *testing.T, state *novaState) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "success", "session": "sess"})
	})
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		if state.badSession.CompareAndSwap(true, false) {
			json.NewEncoder(w).Encode(map[string]string{"status": "error", "errormessage": "no session with key sess"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "subid": 7})
	})
	mux.HandleFunc("GET /submissions/7", func(w http.ResponseWriter, r *http.Request) {
		if state.jobVisible.Load() {
			json.NewEncoder(w).Encode(map[string]any{"jobs": []any{101}})
		} else {
			json.NewEncoder(w).Encode(map[string]any{"jobs": []any{}})
		}
	})
	mux.HandleFunc("GET /jobs/101/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": state.jobStatus.Load().(string)})
	})
	mux.HandleFunc("GET /jobs/101/calibration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"ra": 10.5, "dec": 41.2, "orientation": 3, "pixscale": 1.8, "radius": 2})
	})
	mux.HandleFunc("GET /jobs/101/annotations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"annotations": []map[string]any{{"type": "ngc", "names": []string{"M 31"}, "pixelx": 8, "pixely": 8, "radius": 4}},
		})
	})

	return httptest.NewServer(mux)
}

func newTestSolver(t *testing.T, state *novaState, cfg Config, clock clockwork.Clock) *Solver {
	t.Helper()
	server := fakeNova(t, state)
	t.Cleanup(server.Close)
	client := astrometry.NewClient("key", server.URL, 5*time.Second, testLogger)
	return NewSolver(client, cfg, clock, testLogger)
}

func TestSolveSuccess(t *testing.T) {
	state := &novaState{}
	state.jobVisible.Store(true)
	state.jobStatus.Store("success")

	solver := newTestSolver(t, state, Config{PollInterval: time.Millisecond, PollBudget: time.Second}, clockwork.NewRealClock())

	res, err := solver.Solve(context.Background(), "field.jpg", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, StatusSolved, res.Status)
	assert.Equal(t, int64(7), res.SubmissionID)
	assert.Equal(t, int64(101), res.JobID)
	require.NotNil(t, res.Calibration)
	assert.InDelta(t, 10.5, res.Calibration.RADeg, 1e-9)
	assert.NotEmpty(t, res.AnnotatedURL)
}

func TestSolveFailure(t *testing.T) {
	state := &novaState{}
	state.jobVisible.Store(true)
	state.jobStatus.Store("failure")

	solver := newTestSolver(t, state, Config{PollInterval: time.Millisecond, PollBudget: time.Second}, clockwork.NewRealClock())

	res, err := solver.Solve(context.Background(), "noise.jpg", []byte("img"))
	require.NoError(t, err, "a solve failure is a result, not an error")
	assert.Equal(t, StatusFailed, res.Status)
	assert.NotEmpty(t, res.Reason)
}

// TestSolveTimeout drives the poll loop with a fake clock: a submission that
// never spawns a job must come back timed_out, not block forever.
func TestSolveTimeout(t *testing.T) {
	state := &novaState{}
	state.jobStatus.Store("solving")
	// jobVisible stays false: the submission never progresses.

	fc := clockwork.NewFakeClock()
	solver := newTestSolver(t, state, Config{PollInterval: 5 * time.Second, PollBudget: 30 * time.Second}, fc)

	done := make(chan Result, 1)
	go func() {
		res, err := solver.Poll(context.Background(), 7)
		assert.NoError(t, err)
		done <- res
	}()

	// Walk the clock forward until the poll loop gives up.
	go func() {
		for {
			fc.BlockUntil(1)
			fc.Advance(5 * time.Second)
		}
	}()

	select {
	case res := <-done:
		assert.Equal(t, StatusTimedOut, res.Status)
		assert.Contains(t, res.Reason, "30s")
	case <-time.After(10 * time.Second):
		t.Fatal("poll did not terminate")
	}
}

// TestSubmitSessionRetry verifies a stale session is refreshed once instead
// of failing the upload.
func TestSubmitSessionRetry(t *testing.T) {
	state := &novaState{}
	state.jobStatus.Store("solving")
	state.badSession.Store(true)

	solver := newTestSolver(t, state, Config{}, clockwork.NewRealClock())

	subID, err := solver.Submit(context.Background(), "field.jpg", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), subID)
}

func TestSnapshotPending(t *testing.T) {
	state := &novaState{}
	state.jobStatus.Store("solving")

	solver := newTestSolver(t, state, Config{}, clockwork.NewRealClock())

	res, err := solver.Snapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Zero(t, res.JobID)
}

func TestOverlay(t *testing.T) {
	state := &novaState{}
	state.jobVisible.Store(true)
	state.jobStatus.Store("success")

	solver := newTestSolver(t, state, Config{PollInterval: time.Millisecond, PollBudget: time.Second}, clockwork.NewRealClock())

	// A real decodable upload this time: a 16x16 PNG.
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	res, err := solver.Solve(context.Background(), "field.png", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, StatusSolved, res.Status)

	out, err := solver.Overlay(context.Background(), res.JobID)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
}

func TestOverlayUploadGone(t *testing.T) {
	state := &novaState{}
	state.jobStatus.Store("solving")

	solver := newTestSolver(t, state, Config{}, clockwork.NewRealClock())

	_, err := solver.Overlay(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUploadGone)
}
