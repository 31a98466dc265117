// Package branch implements named, independently editable snapshots of the
// scenario workspace with create, merge, delete and an append-only history.
package branch

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MainBranch always exists and cannot be deleted.
const MainBranch = "main"

var (
	ErrBranchExists    = errors.New("branch already exists")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrInvalidName     = errors.New("invalid branch name")
	ErrProtectedBranch = errors.New("branch is protected")
	ErrStaleRevision   = errors.New("branch was modified concurrently")
	ErrScenarioMissing = errors.New("scenario not found")
	ErrSelfMerge       = errors.New("cannot merge a branch into itself")
)

// History actions.
const (
	ActionCreate = "CREATE_BRANCH"
	ActionUpdate = "UPDATE_BRANCH"
	ActionMerge  = "MERGE_BRANCH"
	ActionDelete = "DELETE_BRANCH"
)

// Snapshot maps scenario ids to their stored envelopes. The store never
// looks inside an envelope except to compare node and edge sets on merge.
type Snapshot map[string]json.RawMessage

// Clone copies the map and every envelope.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, data := range s {
		out[id] = append(json.RawMessage(nil), data...)
	}
	return out
}

// Branch is one named snapshot.
type Branch struct {
	Name          string    `json:"branchName"`
	ScenarioData  Snapshot  `json:"scenarioData"`
	BaseCommit    string    `json:"baseCommit"`
	LastModified  time.Time `json:"lastModified"`
	Author        string    `json:"author"`
	IsDeleted     bool      `json:"isDeleted"`
	CommitMessage string    `json:"commitMessage,omitempty"`
	Revision      int64     `json:"revision"`

	// Base is the snapshot the branch was forked from or last merged at.
	Base Snapshot `json:"-"`
}

// Clone returns a deep copy.
func (b *Branch) Clone() *Branch {
	if b == nil {
		return nil
	}
	cp := *b
	cp.ScenarioData = b.ScenarioData.Clone()
	if b.Base != nil {
		cp.Base = b.Base.Clone()
	}
	return &cp
}

// Parent returns the branch this one was forked from or last synchronised
// with, taken from BaseCommit ("<branch>@<time>"). main has no parent.
func (b *Branch) Parent() string {
	i := strings.LastIndex(b.BaseCommit, "@")
	if i < 0 {
		return ""
	}
	return b.BaseCommit[:i]
}

// HistoryEntry is one append-only audit record.
type HistoryEntry struct {
	Action    string    `json:"action"`
	Branch    string    `json:"branch"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MergeResult is the outcome of a merge. A conflict is a normal result,
// not an error.
type MergeResult struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Conflicts []string `json:"conflicts,omitempty"`
}
