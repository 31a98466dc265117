package branch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/events"
)

// maxCommitAttempts bounds the reload-and-retry loop of scenario writes.
const maxCommitAttempts = 3

// Notification describes a committed change for external subscribers.
type Notification struct {
	Action    string    `json:"action"`
	Branch    string    `json:"branch"`
	Target    string    `json:"target,omitempty"`
	Scenario  string    `json:"scenario,omitempty"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier fans out committed changes, e.g. over MQTT. Failures are logged
// and never undo a commit.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Store is the branch-aware scenario repository.
type Store struct {
	backend  Backend
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Store)

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// ensureMain creates the main branch on first use.
func (s *Store) ensureMain(ctx context.Context) (*Branch, error) {
	b, err := s.backend.Load(ctx, MainBranch)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrBranchNotFound) {
		return nil, err
	}

	now := s.now()
	main := &Branch{
		Name:          MainBranch,
		ScenarioData:  Snapshot{},
		Base:          Snapshot{},
		BaseCommit:    "",
		LastModified:  now,
		Author:        "system",
		CommitMessage: "Initial branch",
	}
	entry := HistoryEntry{Action: ActionCreate, Branch: MainBranch, Author: "system", Message: "Created branch: main", Timestamp: now}
	err = s.backend.Commit(ctx, []Change{{Branch: main, Expect: 0}}, entry)
	if err != nil && !errors.Is(err, ErrStaleRevision) {
		return nil, err
	}
	// A concurrent writer may have created it first.
	return s.backend.Load(ctx, MainBranch)
}

// load returns a live branch or ErrBranchNotFound.
func (s *Store) load(ctx context.Context, name string) (*Branch, error) {
	if name == MainBranch {
		return s.ensureMain(ctx)
	}
	b, err := s.backend.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if b.IsDeleted {
		return nil, ErrBranchNotFound
	}
	return b, nil
}

// CreateBranch forks source (main when empty) into a new branch.
func (s *Store) CreateBranch(ctx context.Context, name, source, author string) (*Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if source == "" {
		source = MainBranch
	}

	src, err := s.load(ctx, source)
	if errors.Is(err, ErrBranchNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, source)
	}
	if err != nil {
		return nil, err
	}

	if name == MainBranch {
		return nil, fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	var expect int64
	existing, err := s.backend.Load(ctx, name)
	switch {
	case err == nil && !existing.IsDeleted:
		return nil, fmt.Errorf("%w: %s", ErrBranchExists, name)
	case err == nil:
		expect = existing.Revision
	case !errors.Is(err, ErrBranchNotFound):
		return nil, err
	}

	now := s.now()
	b := &Branch{
		Name:          name,
		ScenarioData:  src.ScenarioData.Clone(),
		Base:          src.ScenarioData.Clone(),
		BaseCommit:    fmt.Sprintf("%s@%s", source, now.Format(time.RFC3339)),
		LastModified:  now,
		Author:        author,
		CommitMessage: "Created from " + source,
	}
	entry := HistoryEntry{Action: ActionCreate, Branch: name, Author: author, Message: "Created branch: " + name, Timestamp: now}
	if err := s.backend.Commit(ctx, []Change{{Branch: b, Expect: expect}}, entry); err != nil {
		if errors.Is(err, ErrStaleRevision) {
			return nil, fmt.Errorf("%w: %s", ErrBranchExists, name)
		}
		return nil, err
	}
	b.Revision = expect + 1

	s.logger.Info("branch created", zap.String("branch", name), zap.String("source", source), zap.String("author", author))
	s.emit("branch.created", "created branch "+name, map[string]interface{}{"branch": name, "source": source, "author": author})
	s.notify(ctx, Notification{Action: ActionCreate, Branch: name, Author: author, Timestamp: now})
	return b, nil
}

// ListBranches returns live branch names, main first, the rest sorted.
func (s *Store) ListBranches(ctx context.Context) ([]string, error) {
	if _, err := s.ensureMain(ctx); err != nil {
		return nil, err
	}
	names, err := s.backend.Names(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{MainBranch}
	for _, n := range names {
		if n != MainBranch {
			out = append(out, n)
		}
	}
	sort.Strings(out[1:])
	return out, nil
}

// GetBranch returns the branch, or nil when it does not exist or was deleted.
func (s *Store) GetBranch(ctx context.Context, name string) (*Branch, error) {
	b, err := s.load(ctx, name)
	if errors.Is(err, ErrBranchNotFound) {
		return nil, nil
	}
	return b, err
}

// MergeBranch folds source into target (main when empty). The merge is
// three-way per scenario against the snapshot source was forked from. On
// conflict nothing is written and the conflicting identifiers are returned.
func (s *Store) MergeBranch(ctx context.Context, source, target, author string) (*MergeResult, error) {
	if target == "" {
		target = MainBranch
	}
	if source == target {
		return nil, fmt.Errorf("%w: %s", ErrSelfMerge, source)
	}

	src, err := s.load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source, err)
	}
	tgt, err := s.load(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}

	merged, conflicts := mergeSnapshots(mergeBase(src, tgt), src.ScenarioData, tgt.ScenarioData)
	if len(conflicts) > 0 {
		msg := fmt.Sprintf("Merge of %s into %s has %d conflict(s)", source, target, len(conflicts))
		s.logger.Warn("merge conflict", zap.String("source", source), zap.String("target", target), zap.Strings("conflicts", conflicts))
		s.emit("branch.merge_conflict", msg, map[string]interface{}{"source": source, "target": target, "conflicts": conflicts})
		return &MergeResult{Success: false, Message: msg, Conflicts: conflicts}, nil
	}

	now := s.now()
	tgt.ScenarioData = merged
	tgt.LastModified = now
	tgt.Author = author
	tgt.CommitMessage = fmt.Sprintf("Merged %s into %s", source, target)

	// Both sides now share the source's current data.
	if tgt.Parent() == source {
		tgt.Base = src.ScenarioData.Clone()
		tgt.BaseCommit = fmt.Sprintf("%s@%s", source, now.Format(time.RFC3339))
	} else {
		src.Base = src.ScenarioData.Clone()
		src.BaseCommit = fmt.Sprintf("%s@%s", target, now.Format(time.RFC3339))
	}

	entry := HistoryEntry{
		Action:    ActionMerge,
		Branch:    source + " -> " + target,
		Author:    author,
		Message:   tgt.CommitMessage,
		Timestamp: now,
	}
	changes := []Change{{Branch: tgt, Expect: tgt.Revision}, {Branch: src, Expect: src.Revision}}
	if err := s.backend.Commit(ctx, changes, entry); err != nil {
		return nil, err
	}

	s.logger.Info("branch merged", zap.String("source", source), zap.String("target", target), zap.String("author", author))
	s.emit("branch.merged", entry.Message, map[string]interface{}{"source": source, "target": target, "author": author})
	s.notify(ctx, Notification{Action: ActionMerge, Branch: source, Target: target, Author: author, Timestamp: now})
	return &MergeResult{Success: true, Message: entry.Message}, nil
}

// mergeBase picks the common ancestor of src and tgt. Pulling a parent into
// its child uses the child's base; every other direction uses the source's
// base, which is exact when the source was forked from the target.
func mergeBase(src, tgt *Branch) Snapshot {
	if tgt.Parent() == src.Name {
		return tgt.Base
	}
	return src.Base
}

// DeleteBranch tombstones a branch. main cannot be deleted.
func (s *Store) DeleteBranch(ctx context.Context, name, author string) error {
	if name == MainBranch {
		return ErrProtectedBranch
	}
	b, err := s.load(ctx, name)
	if err != nil {
		return err
	}

	now := s.now()
	b.IsDeleted = true
	b.LastModified = now
	b.Author = author
	entry := HistoryEntry{Action: ActionDelete, Branch: name, Author: author, Message: "Deleted branch: " + name, Timestamp: now}
	if err := s.backend.Commit(ctx, []Change{{Branch: b, Expect: b.Revision}}, entry); err != nil {
		return err
	}

	s.logger.Info("branch deleted", zap.String("branch", name), zap.String("author", author))
	s.emit("branch.deleted", entry.Message, map[string]interface{}{"branch": name, "author": author})
	s.notify(ctx, Notification{Action: ActionDelete, Branch: name, Author: author, Timestamp: now})
	return nil
}

// History returns every entry in chronological order.
func (s *Store) History(ctx context.Context) ([]HistoryEntry, error) {
	if _, err := s.ensureMain(ctx); err != nil {
		return nil, err
	}
	return s.backend.History(ctx)
}

// ListScenarios returns the scenarios stored on a branch.
func (s *Store) ListScenarios(ctx context.Context, branch string) (Snapshot, error) {
	b, err := s.load(ctx, branch)
	if err != nil {
		return nil, err
	}
	return b.ScenarioData, nil
}

// GetScenario returns one stored envelope.
func (s *Store) GetScenario(ctx context.Context, branch, id string) (json.RawMessage, error) {
	b, err := s.load(ctx, branch)
	if err != nil {
		return nil, err
	}
	data, ok := b.ScenarioData[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScenarioMissing, id)
	}
	return data, nil
}

// PutScenario writes a scenario into a branch. Concurrent writers are
// resolved last-write-wins.
func (s *Store) PutScenario(ctx context.Context, branch, id string, data json.RawMessage, author string) error {
	return s.writeScenario(ctx, branch, id, author, func(snap Snapshot) error {
		snap[id] = append(json.RawMessage(nil), data...)
		return nil
	})
}

// DeleteScenario removes a scenario from a branch.
func (s *Store) DeleteScenario(ctx context.Context, branch, id, author string) error {
	return s.writeScenario(ctx, branch, id, author, func(snap Snapshot) error {
		if _, ok := snap[id]; !ok {
			return fmt.Errorf("%w: %s", ErrScenarioMissing, id)
		}
		delete(snap, id)
		return nil
	})
}

func (s *Store) writeScenario(ctx context.Context, branch, id, author string, mutate func(Snapshot) error) error {
	if branch == "" {
		branch = MainBranch
	}
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		var b *Branch
		b, err = s.load(ctx, branch)
		if err != nil {
			return err
		}
		if err = mutate(b.ScenarioData); err != nil {
			return err
		}

		now := s.now()
		b.LastModified = now
		b.Author = author
		b.CommitMessage = "Updated scenario " + id
		entry := HistoryEntry{Action: ActionUpdate, Branch: branch, Author: author, Message: "Updated branch: " + branch, Timestamp: now}

		err = s.backend.Commit(ctx, []Change{{Branch: b, Expect: b.Revision}}, entry)
		if errors.Is(err, ErrStaleRevision) {
			s.logger.Debug("stale branch revision, retrying", zap.String("branch", branch), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return err
		}

		s.emit("branch.updated", b.CommitMessage, map[string]interface{}{"branch": branch, "scenario_id": id, "author": author})
		s.notify(ctx, Notification{Action: ActionUpdate, Branch: branch, Scenario: id, Author: author, Timestamp: now})
		return nil
	}
	return err
}

func (s *Store) emit(name, msg string, fields map[string]interface{}) {
	if _, err := events.Emit("info", name, msg, fields); err != nil {
		s.logger.Warn("failed to emit event", zap.String("event", name), zap.Error(err))
	}
}

func (s *Store) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("change notification failed", zap.String("action", n.Action), zap.String("branch", n.Branch), zap.Error(err))
	}
}
