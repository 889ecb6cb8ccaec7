package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/fallback"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/monitoring"
	"github.com/sells-group/leadify-flow/internal/pipeline"
	"github.com/sells-group/leadify-flow/internal/resilience"
	"github.com/sells-group/leadify-flow/internal/session"
	"github.com/sells-group/leadify-flow/internal/store"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

const janeRanked = `{"ranked":[{"profile":{"name":"Jane Doe","title":"CTO"},"score":8,"explanation":"Great fit"}]}`

// newUpstream serves the backend endpoints. ranking and qualityCheck
// override the default handlers when set.
func newUpstream(t *testing.T, ranking, qualityCheck http.HandlerFunc) *httptest.Server {
	t.Helper()
	if ranking == nil {
		ranking = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(janeRanked))
		}
	}
	if qualityCheck == nil {
		qualityCheck = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc(backend.PathKeywords, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"topics": []string{"AI"}, "echo": body})
	})
	mux.HandleFunc(backend.PathQueries, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"queries":["AI speaker"]}`))
	})
	mux.HandleFunc(backend.PathLinkd, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"profiles":[{"name":"Jane Doe","title":"CTO"}]}`))
	})
	mux.HandleFunc(backend.PathRanking, ranking)
	mux.HandleFunc(backend.PathQualityCheck, qualityCheck)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// deadURL returns the address of a server that is already closed.
func deadURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return srv.URL
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	store    store.Store
	dataset  *fallback.Dataset
	sessions *session.Manager
}

type envOption func(*Deps)

func withoutRankingFallback(ds *fallback.Dataset) envOption {
	return func(d *Deps) {
		d.Fallback = fallback.NewProvider(ds, model.StageProfileRanking)
	}
}

func newTestEnv(t *testing.T, backendURL string, opts ...func(*fallback.Dataset) envOption) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	ds, err := fallback.Default()
	require.NoError(t, err)
	provider := fallback.NewProvider(ds)

	be := backend.NewClient(backend.WithBaseURL(backendURL))
	guard := resilience.NewGuard(
		resilience.RetryConfig{MaxAttempts: 1},
		resilience.DefaultCircuitBreakerConfig(),
		5*time.Second,
	)
	p := pipeline.New(config.PipelineConfig{}, st, be, provider, guard, nil)
	mgr := session.NewManager(ctx, p, time.Hour)

	deps := Deps{
		Backend:  be,
		Fallback: provider,
		Runs:     p,
		Store:    st,
		Sessions: mgr,
		Metrics:  monitoring.NewCollector(st, guard.Breakers),
	}
	for _, o := range opts {
		o(ds)(&deps)
	}

	srv := New(ctx, config.ServerConfig{Port: 0}, deps)
	return &testEnv{server: srv, handler: srv.Handler(), store: st, dataset: ds, sessions: mgr}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, deadURL())
	rr := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, deadURL())
	req := httptest.NewRequest(http.MethodOptions, "/api/keywords", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	assert.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestProxy_ForwardsBodyVerbatim(t *testing.T) {
	up := newUpstream(t, nil, nil)
	env := newTestEnv(t, up.URL)

	rr := env.do(t, http.MethodPost, "/api/keywords", `{"event_details":{"name":"AI Conf"}}`)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode[map[string]any](t, rr)
	assert.Equal(t, []any{"AI"}, body["topics"])
	echo := body["echo"].(map[string]any)
	assert.Equal(t, "AI Conf", echo["event_details"].(map[string]any)["name"])
}

func TestProxy_BackendDown(t *testing.T) {
	env := newTestEnv(t, deadURL())
	rr := env.do(t, http.MethodPost, "/api/queries", `{}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rr)["error"])
}

func TestProxy_InvalidJSONFromBackend(t *testing.T) {
	up := newUpstream(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	env := newTestEnv(t, up.URL)

	rr := env.do(t, http.MethodPost, "/api/quality_check", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "Invalid JSON from backend", body["error"])
	assert.Equal(t, "not json", body["raw"])
}

func TestProxy_RejectsNonJSONRequest(t *testing.T) {
	up := newUpstream(t, nil, nil)
	env := newTestEnv(t, up.URL)

	rr := env.do(t, http.MethodPost, "/api/linkd", `{nope`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRanking_ValidResponsePassesThrough(t *testing.T) {
	up := newUpstream(t, nil, nil)
	env := newTestEnv(t, up.URL)

	rr := env.do(t, http.MethodPost, "/api/ranking", `{"profiles":[]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get(headerFallback))
	assert.JSONEq(t, janeRanked, rr.Body.String())
}

func TestRanking_FallbackTriggers(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		dead    bool
		trigger fallback.Trigger
	}{
		{name: "backend unreachable", dead: true, trigger: fallback.TriggerCallFailed},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			trigger: fallback.TriggerInvalidJSON,
		},
		{
			name: "missing ranked",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"results":[]}`))
			},
			trigger: fallback.TriggerNoRanked,
		},
		{
			name: "empty ranked",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"ranked":[]}`))
			},
			trigger: fallback.TriggerNoRanked,
		},
		{
			name: "no decodable entry",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"ranked":[1,"x"]}`))
			},
			trigger: fallback.TriggerNoRanked,
		},
		{
			name: "error status with json body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
			},
			trigger: fallback.TriggerNoRanked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := deadURL()
			if !tt.dead {
				url = newUpstream(t, tt.handler, nil).URL
			}
			env := newTestEnv(t, url)

			rr := env.do(t, http.MethodPost, "/api/ranking", `{"profiles":[]}`)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, string(tt.trigger), rr.Header().Get(headerFallback))

			body := decode[struct {
				Ranked []model.RankedProfile `json:"ranked"`
			}](t, rr)
			require.Len(t, body.Ranked, len(env.dataset.Ranked))
			assert.Equal(t, *env.dataset.Ranked[0].Profile.Name, *body.Ranked[0].Profile.Name)
		})
	}
}

func TestRanking_FallbackDisabled(t *testing.T) {
	t.Run("call failure is an error", func(t *testing.T) {
		env := newTestEnv(t, deadURL(), withoutRankingFallback)
		rr := env.do(t, http.MethodPost, "/api/ranking", `{}`)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("no ranked passes through", func(t *testing.T) {
		up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"ranked":[]}`))
		}, nil)
		env := newTestEnv(t, up.URL, withoutRankingFallback)
		rr := env.do(t, http.MethodPost, "/api/ranking", `{}`)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"ranked":[]}`, rr.Body.String())
	})
}

func TestSessions_Journey(t *testing.T) {
	up := newUpstream(t, nil, nil)
	env := newTestEnv(t, up.URL)

	rr := env.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	snap := decode[session.Snapshot](t, rr)
	require.NotEmpty(t, snap.ID)
	assert.Equal(t, "event_details", snap.JourneyName)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, session.TypeGreeting, snap.Messages[0].Type)

	base := "/api/sessions/" + snap.ID
	for _, msg := range []string{"AI Conf", "Tech professionals", "We need speakers"} {
		rr = env.do(t, http.MethodPost, base+"/messages", `{"content":"`+msg+`"}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	resp := decode[messageResponse](t, rr)
	require.Len(t, resp.Replies, 1)
	assert.Equal(t, session.TypeProcessingStart, resp.Replies[0].Type)

	sess, ok := env.sessions.Get(snap.ID)
	require.True(t, ok)
	sess.Wait()

	rr = env.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[session.Snapshot](t, rr)
	assert.Equal(t, "results", snap.JourneyName)
	assert.Equal(t, model.StageCompleted, snap.Process.Stage)
	require.Len(t, snap.Leads.Speakers, 1)
	assert.Equal(t, "Jane Doe", snap.Leads.Speakers[0].Name)

	rr = env.do(t, http.MethodPost, base+"/reset", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[session.Snapshot](t, rr)
	assert.Equal(t, "event_details", snap.JourneyName)
	assert.Equal(t, model.IdleStatus(), snap.Process)
	assert.True(t, snap.Leads.IsEmpty())

	rr = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessions_SeedAndEmptyMessage(t *testing.T) {
	env := newTestEnv(t, deadURL())

	rr := env.do(t, http.MethodPost, "/api/sessions", `{"event":{"name":"AI Conf"}}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	snap := decode[session.Snapshot](t, rr)
	assert.Equal(t, "AI Conf", snap.Input.Event.Name)

	rr = env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/messages", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSessions_NotFound(t *testing.T) {
	env := newTestEnv(t, deadURL())
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/missing"},
		{http.MethodPost, "/api/sessions/missing/messages"},
		{http.MethodPost, "/api/sessions/missing/reset"},
		{http.MethodGet, "/api/sessions/missing/events"},
		{http.MethodDelete, "/api/sessions/missing"},
	} {
		rr := env.do(t, tc.method, tc.path, `{"content":"hi"}`)
		assert.Equal(t, http.StatusNotFound, rr.Code, tc.path)
	}
}

func TestSessionEvents_IdleSessionSendsDone(t *testing.T) {
	env := newTestEnv(t, deadURL())
	sess := env.sessions.Create(model.Input{})

	rr := env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: progress\ndata: "), body)
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, `"journey_name":"event_details"`)
}

func TestSessionEvents_StreamsRunToCompletion(t *testing.T) {
	release := make(chan struct{})
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(janeRanked))
	}, nil)
	env := newTestEnv(t, up.URL)

	sess := env.sessions.Create(model.Input{})
	for _, msg := range []string{"AI Conf", "Tech", "speakers"} {
		_, err := sess.HandleMessage(msg)
		require.NoError(t, err)
	}
	require.True(t, sess.Running())

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/events", "")
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case rr := <-done:
		body := rr.Body.String()
		assert.Contains(t, body, `"stage":"completed"`)
		assert.Contains(t, body, "event: done\n")
		assert.Contains(t, body, `"journey_name":"results"`)
	case <-time.After(10 * time.Second):
		t.Fatal("event stream did not finish")
	}
}

func TestRuns_CreateAndFetch(t *testing.T) {
	up := newUpstream(t, nil, nil)
	env := newTestEnv(t, up.URL)

	rr := env.do(t, http.MethodPost, "/api/runs", `{"event":{"name":"AI Conf"},"goals":{"needSpeakers":true}}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	created := decode[createRunResponse](t, rr)
	require.NotEmpty(t, created.RunID)
	assert.Equal(t, "/api/runs/"+created.RunID, rr.Header().Get("Location"))

	env.server.Wait()

	rr = env.do(t, http.MethodGet, "/api/runs/"+created.RunID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	run := decode[model.Run](t, rr)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	require.Len(t, run.Result.Leads.Speakers, 1)
	assert.Equal(t, "Jane Doe", run.Result.Leads.Speakers[0].Name)
	assert.Equal(t, 80, run.Result.Leads.Speakers[0].RelevancyScore)

	rr = env.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.Run](t, rr), 1)

	rr = env.do(t, http.MethodGet, "/api/runs/"+created.RunID+"/stages", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode[[]model.RunStage](t, rr))

	rr = env.do(t, http.MethodGet, "/api/runs/"+created.RunID+"/export?format=csv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "leadify-"+created.RunID+".csv")
	assert.Contains(t, rr.Body.String(), "Jane Doe")
}

func TestRuns_Errors(t *testing.T) {
	env := newTestEnv(t, deadURL())

	rr := env.do(t, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/runs", `{bad`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	queued, err := env.store.CreateRun(context.Background(), model.Input{})
	require.NoError(t, err)

	rr = env.do(t, http.MethodGet, "/api/runs/"+queued.ID+"/export", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/runs/"+queued.ID+"/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRuns_FallbackRunStillCompletes(t *testing.T) {
	env := newTestEnv(t, deadURL())

	rr := env.do(t, http.MethodPost, "/api/runs", `{"event":{"name":"AI Conf"}}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decode[createRunResponse](t, rr).RunID
	env.server.Wait()

	rr = env.do(t, http.MethodGet, "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	run := decode[model.Run](t, rr)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.True(t, run.Result.UsedFallback)
	assert.Equal(t, len(env.dataset.Ranked), run.Result.Leads.Len())
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, deadURL())

	rr := env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[monitoring.MetricsSnapshot](t, rr)
	assert.Equal(t, 24, snap.LookbackHours)

	rr = env.do(t, http.MethodGet, "/api/metrics?lookback_hours=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decode[monitoring.MetricsSnapshot](t, rr).LookbackHours)

	rr = env.do(t, http.MethodGet, "/api/metrics?lookback_hours=-1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMissingDeps(t *testing.T) {
	h := New(context.Background(), config.ServerConfig{}, Deps{}).Handler()
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/keywords"},
		{http.MethodPost, "/api/sessions"},
		{http.MethodPost, "/api/runs"},
		{http.MethodGet, "/api/runs"},
		{http.MethodGet, "/api/metrics"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, tc.path)
	}
}
