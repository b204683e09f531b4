package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MochiXu/hybrid-search-ranx/internal/benchmark"
	"github.com/MochiXu/hybrid-search-ranx/internal/evaluation"
	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	"github.com/MochiXu/hybrid-search-ranx/internal/normalize"
	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/security"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
	"github.com/MochiXu/hybrid-search-ranx/internal/report"
)

// CompareRequest is the JSON body of POST /v1/benchmark/compare.
type CompareRequest struct {
	Qrels ranking.Qrels `json:"qrels"`
	Runs  []RunInput    `json:"runs"`

	// Methods, Metrics and Target default to the server configuration.
	Methods []string `json:"methods,omitempty"`
	Metrics []string `json:"metrics,omitempty"`
	Target  string   `json:"target,omitempty"`

	// IncludeFused adds the fused rankings to the response.
	IncludeFused bool `json:"include_fused,omitempty"`
}

// RunInput is one ranking in a CompareRequest.
type RunInput struct {
	Name          string                        `json:"name"`
	Scores        map[string]map[string]float64 `json:"scores"`
	Normalization string                        `json:"normalization,omitempty"`
}

// CompareResponse is the JSON response of POST /v1/benchmark/compare.
type CompareResponse struct {
	*benchmark.Response

	// FusedRuns maps fused run name to its scores.
	FusedRuns map[string]map[string]map[string]float64 `json:"fused_runs,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: s.cfg.Version})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

// handleCompare handles POST /v1/benchmark/compare. With ?format=table the
// report is rendered as a text table instead of JSON.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var body CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperrors.WriteError(w, apperrors.InvalidRequestError(
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid request body: "+err.Error()))
		return
	}

	req, err := body.toRequest()
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := s.svc.Run(ctx, req)
	if err != nil {
		if apperrors.Code(err) == "" {
			s.log.WithError(err).Error("Benchmark failed")
		}
		apperrors.WriteError(w, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "table") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		report.Write(w, resp.Report, report.Options{})
		return
	}

	out := CompareResponse{Response: resp}
	if body.IncludeFused {
		out.FusedRuns = make(map[string]map[string]map[string]float64, len(resp.Fused))
		for _, run := range resp.Fused {
			out.FusedRuns[run.Name] = run.Scores
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// toRequest validates the body and resolves every name it carries.
func (b CompareRequest) toRequest() (benchmark.Request, error) {
	if len(b.Qrels) == 0 {
		return benchmark.Request{}, apperrors.EmptyJudgmentSet()
	}
	if err := b.Qrels.Validate(); err != nil {
		return benchmark.Request{}, err
	}
	if err := security.ValidateRunCount(len(b.Runs)); err != nil {
		return benchmark.Request{}, apperrors.ValidationError(err.Error())
	}
	for qid, docs := range b.Qrels {
		if err := validateIDs(qid, docs); err != nil {
			return benchmark.Request{}, apperrors.ValidationError("qrels: " + err.Error())
		}
	}

	req := benchmark.Request{Qrels: b.Qrels, Inputs: make([]benchmark.Input, len(b.Runs))}
	for i, in := range b.Runs {
		if err := security.ValidateRunName(in.Name); err != nil {
			return benchmark.Request{}, apperrors.ValidationError(fmt.Sprintf("runs[%d]: %v", i, err))
		}
		for qid, docs := range in.Scores {
			if err := validateIDs(qid, docs); err != nil {
				return benchmark.Request{}, apperrors.ValidationError(fmt.Sprintf("runs[%d]: %v", i, err))
			}
		}
		run := ranking.NewRun(in.Name, in.Scores)
		if err := run.Validate(); err != nil {
			return benchmark.Request{}, err
		}
		var mode normalize.Mode
		if in.Normalization != "" {
			m, err := normalize.ParseMode(in.Normalization)
			if err != nil {
				return benchmark.Request{}, err
			}
			mode = m
		}
		req.Inputs[i] = benchmark.Input{Run: run, Mode: mode}
	}

	var err error
	if len(b.Methods) > 0 {
		if req.Methods, err = fusion.ParseMethods(b.Methods); err != nil {
			return benchmark.Request{}, err
		}
	}
	if len(b.Metrics) > 0 {
		if req.Metrics, err = evaluation.ParseMetrics(b.Metrics); err != nil {
			return benchmark.Request{}, err
		}
	}
	if b.Target != "" {
		if req.Target, err = evaluation.ParseMetric(b.Target); err != nil {
			return benchmark.Request{}, err
		}
	}
	return req, nil
}

func validateIDs[V any](qid string, docs map[string]V) error {
	if err := security.ValidateID("query_id", qid); err != nil {
		return err
	}
	for docID := range docs {
		if err := security.ValidateID("doc_id", docID); err != nil {
			return err
		}
	}
	return nil
}
