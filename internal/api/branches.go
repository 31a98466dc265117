package api

import (
	"net/http"

	"github.com/AaronLay10/DialogStudio/internal/branch"
)

const branchNameRule = "required,max=100,excludesall=?#"

type branchListData struct {
	Branches []string `json:"branches"`
}

type historyData struct {
	History []branch.HistoryEntry `json:"history"`
}

type deleteData struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// branchName returns the validated {name} parameter or writes a 400.
func (s *Server) branchName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := pathParam(r, "name")
	if err := s.validate.Var(name, branchNameRule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid branch name")
		return "", false
	}
	return name, true
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListBranches(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: branchListData{Branches: names}})
}

func (s *Server) createBranch(w http.ResponseWriter, r *http.Request) {
	name, ok := s.branchName(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	b, err := s.store.CreateBranch(r.Context(), name, q.Get("from"), requestAuthor(r))
	s.metrics.branchOp("create", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: b})
}

func (s *Server) getBranch(w http.ResponseWriter, r *http.Request) {
	name, ok := s.branchName(w, r)
	if !ok {
		return
	}
	b, err := s.store.GetBranch(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "branch not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: b})
}

// mergeBranch always answers 200 once both branches exist: a conflicting
// merge is reported in the result body.
func (s *Server) mergeBranch(w http.ResponseWriter, r *http.Request) {
	name, ok := s.branchName(w, r)
	if !ok {
		return
	}
	res, err := s.store.MergeBranch(r.Context(), name, r.URL.Query().Get("target"), requestAuthor(r))
	switch {
	case err != nil:
		s.metrics.branchOp("merge", err)
		s.fail(w, r, err)
		return
	case !res.Success:
		s.metrics.BranchOps.WithLabelValues("merge", "conflict").Inc()
	default:
		s.metrics.branchOp("merge", nil)
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: res})
}

func (s *Server) deleteBranch(w http.ResponseWriter, r *http.Request) {
	name, ok := s.branchName(w, r)
	if !ok {
		return
	}
	err := s.store.DeleteBranch(r.Context(), name, requestAuthor(r))
	s.metrics.branchOp("delete", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: deleteData{Success: true, Message: "Branch deleted"}})
}

func (s *Server) branchHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.History(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history == nil {
		history = []branch.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: historyData{History: history}})
}
