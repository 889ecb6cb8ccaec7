package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/export"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/pipeline"
	"github.com/sells-group/leadify-flow/internal/store"
)

const maxListLimit = 500

type createRunResponse struct {
	RunID  string          `json:"run_id"`
	Status model.RunStatus `json:"status"`
}

// handleCreateRun queues a run and executes it in the background.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline is not configured")
		return
	}
	var input model.Input
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.deps.Runs.CreateRun(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, err := s.deps.Runs.Run(s.ctx, input, pipeline.WithRunID(run.ID))
		if err != nil {
			zap.L().Error("server: run failed", zap.String("run_id", run.ID), zap.Error(err))
			return
		}
		zap.L().Info("server: run complete",
			zap.String("run_id", run.ID),
			zap.Int("speakers", len(result.Leads.Speakers)),
			zap.Int("sponsors", len(result.Leads.Sponsors)),
			zap.Bool("used_fallback", result.UsedFallback),
		)
	}()

	w.Header().Set("Location", "/api/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, createRunResponse{RunID: run.ID, Status: run.Status})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}

	q := r.URL.Query()
	filter := model.RunFilter{Status: model.RunStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	filter.Limit = min(filter.Limit, maxListLimit)

	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.run(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListStages(w http.ResponseWriter, r *http.Request) {
	run, ok := s.run(w, r)
	if !ok {
		return
	}
	stages, err := s.deps.Store.ListStages(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stages == nil {
		stages = []model.RunStage{}
	}
	writeJSON(w, http.StatusOK, stages)
}

// handleExportRun downloads a finished run's leads. ?format= is csv, xlsx or
// json (default).
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	format := export.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		var err error
		if format, err = export.ParseFormat(f); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	run, ok := s.run(w, r)
	if !ok {
		return
	}
	if run.Result == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s has no result yet", run.ID))
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, run.Result); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(run.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics are not configured")
		return
	}
	hours := s.deps.LookbackHours
	if h := r.URL.Query().Get("lookback_hours"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
			return
		}
		hours = n
	}

	snap, err := s.deps.Metrics.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store is not configured")
		return nil, false
	}
	id := chi.URLParam(r, "runID")
	run, err := s.deps.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return run, true
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", s)
	}
	return n, nil
}
