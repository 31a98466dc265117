package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/branch"
	"github.com/AaronLay10/DialogStudio/internal/codec"
	"github.com/AaronLay10/DialogStudio/internal/events"
	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

// BranchHeader selects the branch a scenario request operates on. Absent
// means main.
const BranchHeader = "X-Branch"

const defaultAuthor = "anonymous"

type scenarioList struct {
	Scenarios []codec.Envelope `json:"scenarios"`
	Count     int              `json:"count"`
	Branch    string           `json:"branch"`
}

type validationResponse struct {
	ScenarioID string             `json:"scenario_id"`
	Valid      bool               `json:"valid"`
	Warnings   []scenario.Warning `json:"warnings"`
}

func requestBranch(r *http.Request) string {
	if b := r.Header.Get(BranchHeader); b != "" {
		return b
	}
	return branch.MainBranch
}

func requestAuthor(r *http.Request) string {
	if a := r.URL.Query().Get("author"); a != "" {
		return a
	}
	return defaultAuthor
}

// pathParam returns an unescaped route parameter.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) listScenarios(w http.ResponseWriter, r *http.Request) {
	name := requestBranch(r)
	snap, err := s.store.ListScenarios(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := scenarioList{Scenarios: make([]codec.Envelope, 0, len(ids)), Branch: name}
	for _, id := range ids {
		env, err := decodeStored(id, snap[id])
		if err != nil {
			s.logger.Warn("skipping unreadable scenario", zap.String("branch", name), zap.String("scenario_id", id), zap.Error(err))
			continue
		}
		out.Scenarios = append(out.Scenarios, *env)
	}
	out.Count = len(out.Scenarios)
	writeJSON(w, http.StatusOK, out)
}

func decodeStored(id string, data json.RawMessage) (*codec.Envelope, error) {
	var env codec.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrMalformed, err)
	}
	env.ID = id
	return &env, nil
}

func (s *Server) loadScenario(r *http.Request) (*codec.Envelope, error) {
	id := pathParam(r, "id")
	data, err := s.store.GetScenario(r.Context(), requestBranch(r), id)
	if err != nil {
		return nil, err
	}
	return decodeStored(id, data)
}

func (s *Server) getScenario(w http.ResponseWriter, r *http.Request) {
	env, err := s.loadScenario(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// readEnvelope decodes and checks a request body. The graph must decode too,
// so nothing unreadable is ever stored.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request) (*codec.Envelope, bool) {
	var env codec.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	if err := s.validate.Struct(&env); err != nil {
		writeError(w, http.StatusBadRequest, describeValidation(err))
		return nil, false
	}
	if _, err := codec.FromEnvelope(&env); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &env, true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := "validation failed:"
	for i, fe := range verrs {
		if i > 0 {
			msg += ","
		}
		msg += " " + fe.Field() + " " + fe.Tag()
	}
	return msg
}

func (s *Server) putEnvelope(r *http.Request, id string, env *codec.Envelope) error {
	env.ID = id
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.store.PutScenario(r.Context(), requestBranch(r), id, data, requestAuthor(r))
}

func (s *Server) createScenario(w http.ResponseWriter, r *http.Request) {
	env, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	err := s.putEnvelope(r, id, env)
	s.metrics.scenarioOp("create", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_, _ = events.Emit("info", "scenario.created", env.Name, map[string]interface{}{
		"scenario_id": id,
		"branch":      requestBranch(r),
	})
	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) updateScenario(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := s.store.GetScenario(r.Context(), requestBranch(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	env, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	err := s.putEnvelope(r, id, env)
	s.metrics.scenarioOp("update", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_, _ = events.Emit("info", "scenario.updated", env.Name, map[string]interface{}{
		"scenario_id": id,
		"branch":      requestBranch(r),
	})
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) deleteScenario(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	err := s.store.DeleteScenario(r.Context(), requestBranch(r), id, requestAuthor(r))
	s.metrics.scenarioOp("delete", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_, _ = events.Emit("info", "scenario.deleted", "", map[string]interface{}{
		"scenario_id": id,
		"branch":      requestBranch(r),
	})
	w.WriteHeader(http.StatusNoContent)
}

// scenarioFlow returns the editor node and edge records.
func (s *Server) scenarioFlow(w http.ResponseWriter, r *http.Request) {
	env, err := s.loadScenario(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sc, err := codec.FromEnvelope(env)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codec.ToFlow(sc))
}

func (s *Server) validateScenario(w http.ResponseWriter, r *http.Request) {
	env, err := s.loadScenario(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sc, err := codec.FromEnvelope(env)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	warnings := scenario.Validate(sc)
	if warnings == nil {
		warnings = []scenario.Warning{}
	}
	writeJSON(w, http.StatusOK, validationResponse{
		ScenarioID: env.ID,
		Valid:      len(warnings) == 0,
		Warnings:   warnings,
	})
}
