package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rm01-bsp/bootseq"
)

// noopLogger returns a slog.Logger that discards all output.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBoot is a test double that implements bootService.
type fakeBoot struct {
	running atomic.Bool
	report  *bootseq.Report
	signals map[string]bool
	runs    atomic.Int32
	// release, when set, keeps a started run going until it is closed.
	release chan struct{}
}

func (f *fakeBoot) Start(context.Context, func(bootseq.Progress)) (<-chan bootseq.Result, error) {
	if !f.running.CompareAndSwap(false, true) {
		return nil, bootseq.InvalidStateError("boot already in progress")
	}
	f.runs.Add(1)
	done := make(chan bootseq.Result, 1)
	go func() {
		if f.release != nil {
			<-f.release
		}
		f.running.Store(false)
		done <- bootseq.Result{Report: &bootseq.Report{Status: bootseq.StatusCompleted}}
		close(done)
	}()
	return done, nil
}

func (f *fakeBoot) IsRunning() bool {
	return f.running.Load()
}

func (f *fakeBoot) State() bootseq.RunState {
	if f.running.Load() {
		return bootseq.StateReadinessWait
	}
	return bootseq.StateNotStarted
}

func (f *fakeBoot) LastReport() *bootseq.Report {
	return f.report
}

func (f *fakeBoot) Signals() map[string]bool {
	return f.signals
}

// newTestEngine builds a minimal Gin engine with only the given handler.
func newTestEngine(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Handle(method, path, h)
	return r
}

func serve(engine http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	engine.ServeHTTP(w, req)
	return w
}

// --- Boot handler ---

func TestBoot_202WhenNotRunning(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{}
	handler := &Handler{boot: fake, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodPost, "/api/v1/boot", handler.Boot), http.MethodPost, "/api/v1/boot")
	assert.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, int32(1), fake.runs.Load())
	assert.Eventually(t, func() bool { return !fake.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestBoot_409WhenInProgress(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{}
	fake.running.Store(true)
	handler := &Handler{boot: fake, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodPost, "/api/v1/boot", handler.Boot), http.MethodPost, "/api/v1/boot")
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "in-progress", body["status"])
	assert.Equal(t, int32(0), fake.runs.Load())
}

func TestBoot_ConcurrentRequestsStartOneRun(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{release: make(chan struct{})}
	defer close(fake.release)
	engine := newTestEngine(http.MethodPost, "/api/v1/boot", (&Handler{boot: fake, logger: noopLogger()}).Boot)

	const requests = 16
	codes := make(chan int, requests)
	var wg sync.WaitGroup
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- serve(engine, http.MethodPost, "/api/v1/boot").Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	assert.Equal(t, 1, counts[http.StatusAccepted])
	assert.Equal(t, requests-1, counts[http.StatusConflict])
	assert.Equal(t, int32(1), fake.runs.Load())
}

// --- Health handler ---

func TestHealth_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{}
	fake.running.Store(true)
	handler := &Handler{boot: fake, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodGet, "/health", handler.Health), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "readiness-wait", body["state"])
	assert.Equal(t, true, body["running"])
}

// --- Ready handler ---

func TestReady_503BeforeBoot(t *testing.T) {
	t.Parallel()

	handler := &Handler{boot: &fakeBoot{}, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodGet, "/ready", handler.Ready), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReady_503AfterFailedBoot(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{report: &bootseq.Report{Status: bootseq.StatusFailed}}
	handler := &Handler{boot: fake, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodGet, "/ready", handler.Ready), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReady_200ListsDegradedComponents(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{report: &bootseq.Report{
		Status: bootseq.StatusCompleted,
		Waits: []bootseq.WaitOutcome{
			{Label: "webserver", Ready: true},
			{Label: "netmon", Ready: false},
		},
	}}
	handler := &Handler{boot: fake, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodGet, "/ready", handler.Ready), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Ready    bool     `json:"ready"`
		Degraded []string `json:"degraded"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Ready)
	assert.Equal(t, []string{"netmon"}, body.Degraded)
}

// --- Report handler ---

func TestReport_404BeforeBoot(t *testing.T) {
	t.Parallel()

	handler := &Handler{boot: &fakeBoot{}, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodGet, "/report", handler.Report), http.MethodGet, "/report")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReport_ReturnsLastReport(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{report: &bootseq.Report{RunID: "run-7", Status: bootseq.StatusCompleted, SavedMS: 18100}}
	handler := &Handler{boot: fake, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodGet, "/report", handler.Report), http.MethodGet, "/report")
	assert.Equal(t, http.StatusOK, w.Code)

	var body bootseq.Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "run-7", body.RunID)
	assert.Equal(t, int64(18100), body.SavedMS)
}

// --- Signals handler ---

func TestSignals_ReturnsSnapshot(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{signals: map[string]bool{"power": true, "netmon": false}}
	handler := &Handler{boot: fake, logger: noopLogger()}

	w := serve(newTestEngine(http.MethodGet, "/signals", handler.Signals), http.MethodGet, "/signals")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Signals map[string]bool `json:"signals"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, map[string]bool{"power": true, "netmon": false}, body.Signals)
}

// --- Recovery middleware ---

func TestRecoveryMiddleware_Returns500OnPanic(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(Recovery(noopLogger()))
	engine.GET("/panic", func(c *gin.Context) {
		panic("intentional test panic")
	})

	w := serve(engine, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
}

// --- RequestLogger middleware ---

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	engine := gin.New()
	engine.Use(RequestLogger(logger))
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/report", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	engine.POST("/api/v1/boot", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	cases := []struct {
		method string
		path   string
		level  string
	}{
		{http.MethodGet, "/health", "DEBUG"},
		{http.MethodGet, "/report", "WARN"},
		{http.MethodPost, "/api/v1/boot", "INFO"},
	}
	for _, tc := range cases {
		buf.Reset()
		serve(engine, tc.method, tc.path)

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, tc.level, rec["level"], tc.path)
		assert.Equal(t, tc.path, rec["path"])
	}
}

// --- NewRouter smoke test ---

func TestNewRouter_RoutesRegistered(t *testing.T) {
	t.Parallel()

	fake := &fakeBoot{report: &bootseq.Report{Status: bootseq.StatusCompleted}, signals: map[string]bool{}}
	router := NewRouter(fake, "bootseq-test", noopLogger())

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/report", http.StatusOK},
		{http.MethodGet, "/signals", http.StatusOK},
		{http.MethodPost, "/api/v1/boot", http.StatusAccepted},
	}

	for _, tc := range cases {
		w := serve(router.Handler(), tc.method, tc.path)
		assert.Equal(t, tc.want, w.Code, "route %s %s", tc.method, tc.path)
	}
}
