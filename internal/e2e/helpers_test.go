package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"sessiond/internal/config"
	"sessiond/internal/httpapi"
	"sessiond/internal/session"
	"sessiond/internal/sim"
)

// newServer starts a full in-process session with simulated collaborators and
// serves the HTTP API from an httptest server.
func newServer(t *testing.T) (*httptest.Server, *session.Session) {
	t.Helper()
	cfg := config.Default()
	cfg.CaptureFPS = 10
	cfg.GraceMS = 2000

	logger := zerolog.Nop()
	mic := sim.NewMicrophone()
	mic.SpeechChunks = 3
	mic.SilenceChunks = 6
	// A static screen keeps analysis (and therefore speech) to the one
	// first-frame result, so the microphone is not muted all test long.
	screen := sim.NewScreen()
	screen.ChangeEvery = 0
	collab := session.Collaborators{
		Capture:     screen,
		Audio:       mic,
		Classifier:  sim.EnergyClassifier{},
		Analyzer:    sim.Analyzer{},
		Transcriber: sim.Transcriber{},
		Synthesizer: sim.Speaker{Log: logger},
		Renderer:    sim.Renderer{Log: logger},
	}
	sess := session.New(cfg, collab, logger)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(sess.Stop)

	srv := httptest.NewServer(httpapi.NewMux(sess))
	t.Cleanup(srv.Close)
	return srv, sess
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
