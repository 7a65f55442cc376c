package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rm01-bsp/bootseq"
)

// TestRouter_RealAgent drives a real Agent through the HTTP API.
func TestRouter_RealAgent(t *testing.T) {
	cfg := bootseq.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.DeferredDelay = 0

	seq := bootseq.New("API")
	seq.Hardware("power", bootseq.NoOp)
	seq.Service("webserver", bootseq.NoOp)
	agent, err := seq.Agent(cfg, bootseq.WithLogger(noopLogger()))
	require.NoError(t, err)

	router := NewRouter(agent, "bootseq-test", noopLogger())

	w := serve(router.Handler(), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(router.Handler(), http.MethodPost, "/api/v1/boot")
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return serve(router.Handler(), http.MethodGet, "/ready").Code == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	w = serve(router.Handler(), http.MethodGet, "/signals")
	var body struct {
		Signals map[string]bool `json:"signals"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, map[string]bool{"power": true, "webserver": true}, body.Signals)
}
