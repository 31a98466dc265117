package branch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})}, opts...)
	return NewStore(NewMemoryBackend(), opts...)
}

func envelope(nodes string) json.RawMessage {
	return json.RawMessage(`{"name":"s","scenario_data":{"start_node":"a","nodes":[` + nodes + `],"edges":[]}}`)
}

func TestMainIsCreatedLazily(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names, err := s.ListBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)

	main, err := s.GetBranch(ctx, "main")
	require.NoError(t, err)
	require.NotNil(t, main)
	assert.Empty(t, main.ScenarioData)
}

func TestCreateBranchCopiesSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a"}`), "alice"))

	b, err := s.CreateBranch(ctx, "feature", "", "bob")
	require.NoError(t, err)
	assert.Equal(t, "feature", b.Name)
	assert.Equal(t, "main@2024-05-01T12:00:03Z", b.BaseCommit)
	assert.Equal(t, "bob", b.Author)
	assert.JSONEq(t, string(envelope(`{"id":"a"}`)), string(b.ScenarioData["greeting"]))

	_, err = s.CreateBranch(ctx, "feature", "main", "bob")
	assert.ErrorIs(t, err, ErrBranchExists)
	_, err = s.CreateBranch(ctx, "other", "nope", "bob")
	assert.ErrorIs(t, err, ErrBranchNotFound)
	_, err = s.CreateBranch(ctx, "  ", "main", "bob")
	assert.ErrorIs(t, err, ErrInvalidName)

	names, err := s.ListBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "feature"}, names)
}

func TestBranchIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a"}`), "alice"))
	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)

	require.NoError(t, s.PutScenario(ctx, "feature", "greeting", envelope(`{"id":"a"},{"id":"b"}`), "bob"))

	main, err := s.GetScenario(ctx, "main", "greeting")
	require.NoError(t, err)
	assert.JSONEq(t, string(envelope(`{"id":"a"}`)), string(main))
}

func TestMergeMainIntoItselfRefused(t *testing.T) {
	s := newTestStore(t)
	_, err := s.MergeBranch(context.Background(), "main", "main", "alice")
	assert.ErrorIs(t, err, ErrSelfMerge)

	_, err = s.MergeBranch(context.Background(), "main", "", "alice")
	assert.ErrorIs(t, err, ErrSelfMerge)
}

func TestMergeAppliesSourceAndKeepsIt(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestStore(t, WithNotifier(n))
	ctx := context.Background()
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a"}`), "alice"))
	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	require.NoError(t, s.PutScenario(ctx, "feature", "greeting", envelope(`{"id":"a"},{"id":"b"}`), "bob"))
	require.NoError(t, s.PutScenario(ctx, "feature", "faq", envelope(`{"id":"q"}`), "bob"))
	// unrelated change on main survives the merge
	require.NoError(t, s.PutScenario(ctx, "main", "billing", envelope(`{"id":"x"}`), "alice"))

	res, err := s.MergeBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Conflicts)

	main, err := s.GetBranch(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, main.ScenarioData, 3)
	assert.JSONEq(t, string(envelope(`{"id":"a"},{"id":"b"}`)), string(main.ScenarioData["greeting"]))

	feature, err := s.GetBranch(ctx, "feature")
	require.NoError(t, err)
	require.NotNil(t, feature, "source branch must survive the merge")

	// merging again is a no-op
	res, err = s.MergeBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	assert.True(t, res.Success)

	var actions []string
	for _, got := range n.got {
		actions = append(actions, got.Action)
	}
	assert.Contains(t, actions, ActionMerge)
}

func TestMergeMainIntoFeature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a","content":"hi"}`), "alice"))
	require.NoError(t, s.PutScenario(ctx, "main", "faq", envelope(`{"id":"q"}`), "alice"))
	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)

	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a","content":"hey"}`), "alice"))
	require.NoError(t, s.PutScenario(ctx, "feature", "faq", envelope(`{"id":"q"},{"id":"r"}`), "bob"))

	res, err := s.MergeBranch(ctx, "main", "feature", "bob")
	require.NoError(t, err)
	require.True(t, res.Success, "conflicts: %v", res.Conflicts)

	feature, err := s.GetBranch(ctx, "feature")
	require.NoError(t, err)
	assert.JSONEq(t, string(envelope(`{"id":"a","content":"hey"}`)), string(feature.ScenarioData["greeting"]))
	assert.JSONEq(t, string(envelope(`{"id":"q"},{"id":"r"}`)), string(feature.ScenarioData["faq"]))
	assert.Equal(t, "main", feature.Parent())

	// main moves again; a second pull only sees the new change
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a","content":"hello"}`), "alice"))
	res, err = s.MergeBranch(ctx, "main", "feature", "bob")
	require.NoError(t, err)
	require.True(t, res.Success, "conflicts: %v", res.Conflicts)

	// and the feature still merges back cleanly
	res, err = s.MergeBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	require.True(t, res.Success, "conflicts: %v", res.Conflicts)

	main, err := s.GetBranch(ctx, "main")
	require.NoError(t, err)
	assert.JSONEq(t, string(envelope(`{"id":"a","content":"hello"}`)), string(main.ScenarioData["greeting"]))
	assert.JSONEq(t, string(envelope(`{"id":"q"},{"id":"r"}`)), string(main.ScenarioData["faq"]))
}

func TestMergeMainIntoFeatureConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a","content":"hi"}`), "alice"))
	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)

	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a","content":"hey"}`), "alice"))
	require.NoError(t, s.PutScenario(ctx, "feature", "greeting", envelope(`{"id":"a","content":"yo"}`), "bob"))

	res, err := s.MergeBranch(ctx, "main", "feature", "bob")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"greeting/node:a"}, res.Conflicts)
}

func TestMergeConflictWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a","content":"hi"}`), "alice"))
	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)

	require.NoError(t, s.PutScenario(ctx, "feature", "greeting", envelope(`{"id":"a","content":"hello"}`), "bob"))
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a","content":"hey"}`), "alice"))

	before, err := s.GetBranch(ctx, "main")
	require.NoError(t, err)
	historyBefore, err := s.History(ctx)
	require.NoError(t, err)

	res, err := s.MergeBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"greeting/node:a"}, res.Conflicts)

	after, err := s.GetBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
	assert.JSONEq(t, string(before.ScenarioData["greeting"]), string(after.ScenarioData["greeting"]))

	historyAfter, err := s.History(ctx)
	require.NoError(t, err)
	assert.Len(t, historyAfter, len(historyBefore))
}

func TestMergeDeletedScenarioConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"a"}`), "alice"))
	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)

	require.NoError(t, s.DeleteScenario(ctx, "feature", "greeting", "bob"))
	require.NoError(t, s.PutScenario(ctx, "main", "greeting", envelope(`{"id":"b"}`), "alice"))

	res, err := s.MergeBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting"}, res.Conflicts)
}

func TestMergeMissingBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.MergeBranch(ctx, "ghost", "main", "bob")
	assert.ErrorIs(t, err, ErrBranchNotFound)

	_, err = s.CreateBranch(ctx, "gone", "main", "bob")
	require.NoError(t, err)
	require.NoError(t, s.DeleteBranch(ctx, "gone", "bob"))
	_, err = s.MergeBranch(ctx, "gone", "main", "bob")
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

func TestDeleteBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.DeleteBranch(ctx, "main", "alice"), ErrProtectedBranch)
	assert.ErrorIs(t, s.DeleteBranch(ctx, "ghost", "alice"), ErrBranchNotFound)

	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	require.NoError(t, s.DeleteBranch(ctx, "feature", "bob"))

	b, err := s.GetBranch(ctx, "feature")
	require.NoError(t, err)
	assert.Nil(t, b)

	names, err := s.ListBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)

	// the name can be reused after deletion
	_, err = s.CreateBranch(ctx, "feature", "main", "carol")
	require.NoError(t, err)
}

func TestHistoryIsChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	require.NoError(t, s.PutScenario(ctx, "feature", "greeting", envelope(`{"id":"a"}`), "bob"))
	_, err = s.MergeBranch(ctx, "feature", "main", "bob")
	require.NoError(t, err)
	require.NoError(t, s.DeleteBranch(ctx, "feature", "bob"))

	history, err := s.History(ctx)
	require.NoError(t, err)

	var actions []string
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []string{ActionCreate, ActionCreate, ActionUpdate, ActionMerge, ActionDelete}, actions)
	assert.Equal(t, "feature -> main", history[3].Branch)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestScenarioCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetScenario(ctx, "main", "nope")
	assert.ErrorIs(t, err, ErrScenarioMissing)
	_, err = s.GetScenario(ctx, "ghost", "nope")
	assert.ErrorIs(t, err, ErrBranchNotFound)

	require.NoError(t, s.PutScenario(ctx, "", "greeting", envelope(`{"id":"a"}`), "alice"))
	list, err := s.ListScenarios(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteScenario(ctx, "main", "greeting", "alice"))
	assert.ErrorIs(t, s.DeleteScenario(ctx, "main", "greeting", "alice"), ErrScenarioMissing)
}

type failingBackend struct {
	*MemoryBackend
}

func (f failingBackend) Load(ctx context.Context, name string) (*Branch, error) {
	return nil, errors.New("connection refused")
}

func TestGetBranchPropagatesBackendErrors(t *testing.T) {
	s := NewStore(failingBackend{NewMemoryBackend()})
	b, err := s.GetBranch(context.Background(), "feature")
	assert.Nil(t, b)
	assert.EqualError(t, err, "connection refused")
}

func TestMemoryBackendRejectsStaleRevision(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	b := &Branch{Name: "x", ScenarioData: Snapshot{}}

	require.NoError(t, m.Commit(ctx, []Change{{Branch: b, Expect: 0}}, HistoryEntry{Action: ActionCreate}))
	err := m.Commit(ctx, []Change{{Branch: b, Expect: 0}}, HistoryEntry{Action: ActionCreate})
	assert.ErrorIs(t, err, ErrStaleRevision)

	history, err := m.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConcurrentScenarioWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.ListBranches(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b"}[i]
			assert.NoError(t, s.PutScenario(ctx, "main", id, envelope(`{"id":"`+id+`"}`), "writer"))
		}(i)
	}
	wg.Wait()
}

func TestConflictKeysSeparateParallelEdges(t *testing.T) {
	doc := func(content, edges string) json.RawMessage {
		return json.RawMessage(`{"name":"s","scenario_data":{"nodes":[{"id":"c","content":"` + content + `"},{"id":"x"}],"edges":[` + edges + `]}}`)
	}
	base := doc("", `{"source":"c","target":"x","sourceHandle":"output-0"}`)
	source := doc("s", `{"source":"c","target":"x","sourceHandle":"output-1"}`)
	target := doc("t", ``)

	assert.Equal(t, []string{"greeting/node:c"}, describeConflict("greeting", base, source, target))

	both := doc("s", `{"source":"c","target":"x","sourceHandle":"output-0"},{"source":"c","target":"x","sourceHandle":"output-1"}`)
	items, ok := parseGraph(both)
	require.True(t, ok)
	assert.Contains(t, items, "edge:c[output-0]->x")
	assert.Contains(t, items, "edge:c[output-1]->x")
}
