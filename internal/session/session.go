// Package session implements the single-user scenario editing session: it
// owns the working graph, tracks whether it has unsaved edits and persists it
// through the branch-aware scenario storage API.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/codec"
	"github.com/AaronLay10/DialogStudio/internal/events"
	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

var (
	ErrImport     = errors.New("import failed")
	ErrValidation = errors.New("scenario is not valid")
	ErrEmpty      = errors.New("no scenario loaded")
)

// State is the lifecycle state of a session.
type State int

const (
	Empty State = iota
	Loaded
	Dirty
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loaded:
		return "loaded"
	case Dirty:
		return "dirty"
	}
	return "unknown"
}

// ScenarioRepository is the branch-aware scenario storage the session
// saves into.
type ScenarioRepository interface {
	GetScenario(ctx context.Context, branch, id string) (*codec.Envelope, error)
	CreateScenario(ctx context.Context, branch, author string, env *codec.Envelope) (string, error)
	UpdateScenario(ctx context.Context, branch, id, author string, env *codec.Envelope) error
}

// Meta is the editable scenario metadata.
type Meta struct {
	Name         string   `json:"name" validate:"required,max=200"`
	Description  string   `json:"description" validate:"max=2000"`
	Category     string   `json:"category" validate:"max=100"`
	Language     string   `json:"language" validate:"omitempty,len=2"`
	Tags         []string `json:"tags" validate:"dive,required"`
	IsActive     bool     `json:"is_active"`
	IsEntryPoint bool     `json:"is_entry_point"`
}

// NodePatch lists the node fields to change. Nil fields are left alone.
type NodePatch struct {
	ID       *string
	Type     *scenario.NodeType
	Content  *string
	Params   scenario.Params
	Position *scenario.Position
}

// Session is safe for concurrent use; edits are serialized.
type Session struct {
	mu       sync.Mutex
	repo     ScenarioRepository
	branch   string
	author   string
	model    *scenario.Scenario
	state    State
	selected string

	// edits counts local mutations; doc counts model replacements.
	edits uint64
	doc   uint64

	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithAuthor sets the name recorded in branch history for saves.
func WithAuthor(author string) Option {
	return func(s *Session) { s.author = author }
}

// WithClock overrides the time source used for node ids.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New returns an empty session bound to branch.
func New(repo ScenarioRepository, branch string, opts ...Option) *Session {
	if branch == "" {
		branch = "main"
	}
	s := &Session{
		repo:     repo,
		branch:   branch,
		logger:   zap.NewNop(),
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Branch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branch
}

// SetBranch changes the branch subsequent saves and opens go to. The working
// graph is kept.
func (s *Session) SetBranch(branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branch = branch
}

// Scenario returns a copy of the working graph, or nil when empty.
func (s *Session) Scenario() *scenario.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Clone()
}

// Selected returns the selected node id.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Load replaces the working graph with a copy of sc.
func (s *Session) Load(sc *scenario.Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replace(sc.Clone(), Loaded)
}

func (s *Session) replace(sc *scenario.Scenario, state State) {
	s.model = sc
	s.state = state
	s.selected = ""
	s.doc++
	s.edits++
}

// Open loads a stored scenario from the active branch.
func (s *Session) Open(ctx context.Context, id string) error {
	branch := s.Branch()
	env, err := s.repo.GetScenario(ctx, branch, id)
	if err != nil {
		return fmt.Errorf("open scenario %s: %w", id, err)
	}
	sc, err := codec.FromEnvelope(env)
	if err != nil {
		return fmt.Errorf("open scenario %s: %w", id, err)
	}
	if sc.ID == "" {
		sc.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replace(sc, Loaded)
	s.logger.Debug("scenario opened", zap.String("scenario_id", id), zap.String("branch", branch))
	return nil
}

// touch marks a local edit. Callers hold mu.
func (s *Session) touch() {
	if s.model == nil {
		s.model = scenario.New("")
	}
	s.state = Dirty
	s.edits++
}

// AddNode appends a node of type t with the type's default content and
// parameters. The first node becomes the start node.
func (s *Session) AddNode(t scenario.NodeType) scenario.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	n := scenario.Node{
		ID:      s.nextNodeID(),
		Type:    t,
		Content: scenario.PolicyFor(t).DefaultContent,
		Params:  scenario.DefaultParams(t),
		Position: scenario.Position{
			X: 100 + float64(len(s.model.Nodes)%5)*220,
			Y: 100 + float64(len(s.model.Nodes)/5)*160,
		},
	}
	// nextNodeID guarantees uniqueness
	_ = s.model.AddNode(n)
	if s.model.StartNode == "" {
		s.model.StartNode = n.ID
	}
	s.selected = n.ID
	return n
}

func (s *Session) nextNodeID() string {
	ms := s.now().UnixMilli()
	for {
		id := fmt.Sprintf("node_%d", ms)
		if !s.model.HasNode(id) {
			return id
		}
		ms++
	}
}

// UpdateNode applies p to node id. An id change rewrites every edge and the
// start node in the same step. A type change without new parameters resets
// the parameters to the new type's defaults.
func (s *Session) UpdateNode(id string, p NodePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrEmpty
	}
	n := s.model.FindNode(id)
	if n == nil {
		return fmt.Errorf("%w: %s", scenario.ErrNodeNotFound, id)
	}
	if p.ID != nil && *p.ID != id {
		if err := s.model.RenameNode(id, *p.ID); err != nil {
			return err
		}
		if s.selected == id {
			s.selected = *p.ID
		}
		n = s.model.FindNode(*p.ID)
	}

	if p.Type != nil && *p.Type != n.Type {
		n.Type = *p.Type
		if p.Params == nil {
			n.Params = scenario.DefaultParams(n.Type)
		}
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Params != nil {
		n.Params = scenario.CloneParams(p.Params)
	}
	if p.Position != nil {
		n.Position = *p.Position
	}
	s.touch()
	return nil
}

// DeleteNode removes a node and every edge touching it.
func (s *Session) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrEmpty
	}
	if err := s.model.RemoveNode(id); err != nil {
		return err
	}
	if s.selected == id {
		s.selected = ""
	}
	s.touch()
	return nil
}

// Connect adds an edge. The handle is not checked against the node type.
func (s *Session) Connect(source, target, handle string) scenario.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.model.Connect(source, target, handle)
}

// Disconnect removes matching edges and reports how many were removed.
func (s *Session) Disconnect(source, target, handle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return 0
	}
	n := s.model.Disconnect(source, target, handle)
	if n > 0 {
		s.touch()
	}
	return n
}

// Select marks a node as selected. An empty id clears the selection.
func (s *Session) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && (s.model == nil || !s.model.HasNode(id)) {
		return fmt.Errorf("%w: %s", scenario.ErrNodeNotFound, id)
	}
	s.selected = id
	return nil
}

// Meta returns the current metadata.
func (s *Session) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return Meta{}
	}
	return metaOf(s.model)
}

func metaOf(sc *scenario.Scenario) Meta {
	return Meta{
		Name:         sc.Name,
		Description:  sc.Description,
		Category:     sc.Category,
		Language:     sc.Language,
		Tags:         append([]string(nil), sc.Tags...),
		IsActive:     sc.IsActive,
		IsEntryPoint: sc.IsEntryPoint,
	}
}

// SetMeta replaces the scenario metadata. It is validated on save.
func (s *Session) SetMeta(m Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.model.Name = m.Name
	s.model.Description = m.Description
	s.model.Category = m.Category
	s.model.Language = m.Language
	s.model.Tags = append([]string(nil), m.Tags...)
	s.model.IsActive = m.IsActive
	s.model.IsEntryPoint = m.IsEntryPoint
}

// Validate runs the publish checks on the working graph.
func (s *Session) Validate() []scenario.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	return scenario.Validate(s.model)
}

// Save persists the working graph on the active branch and returns the
// scenario id. The payload is captured when Save is called; edits made while
// the request is in flight keep the session dirty. A new scenario adopts the
// id assigned by storage. On failure the working graph is left untouched.
func (s *Session) Save(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.model == nil {
		s.mu.Unlock()
		return "", ErrEmpty
	}
	if err := s.validate.Struct(metaOf(s.model)); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrValidation, describeValidation(err))
	}
	env := codec.Encode(s.model)
	id := s.model.ID
	branch, author := s.branch, s.author
	edits, doc := s.edits, s.doc
	s.mu.Unlock()

	var err error
	if id == "" {
		id, err = s.repo.CreateScenario(ctx, branch, author, env)
	} else {
		err = s.repo.UpdateScenario(ctx, branch, id, author, env)
	}
	if err != nil {
		s.logger.Warn("scenario save failed", zap.String("branch", branch), zap.String("scenario_id", id), zap.Error(err))
		emit("warn", "session.save_failed", err.Error(), map[string]interface{}{"branch": branch, "scenario_id": id})
		return "", fmt.Errorf("save scenario: %w", err)
	}

	s.mu.Lock()
	if s.doc == doc {
		if s.model.ID == "" {
			s.model.ID = id
		}
		if s.edits == edits {
			s.state = Loaded
		}
	}
	s.mu.Unlock()

	s.logger.Info("scenario saved", zap.String("branch", branch), zap.String("scenario_id", id))
	emit("info", "session.saved", "scenario saved", map[string]interface{}{"branch": branch, "scenario_id": id})
	return id, nil
}

// Export encodes the working graph in the export format.
func (s *Session) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil, ErrEmpty
	}
	data, err := codec.Marshal(s.model)
	if err != nil {
		return nil, err
	}
	emit("info", "scenario.exported", "scenario exported", map[string]interface{}{"scenario_id": s.model.ID})
	return data, nil
}

// Import replaces the working graph with a parsed document. Nothing changes
// unless the whole document parses. The session keeps its scenario id, so
// saving updates the scenario that was open.
func (s *Session) Import(data []byte) error {
	sc, err := codec.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImport, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sc.ID = ""
	if s.model != nil {
		sc.ID = s.model.ID
	}
	s.replace(sc, Dirty)
	emit("info", "scenario.imported", "scenario imported", map[string]interface{}{"nodes": len(sc.Nodes), "edges": len(sc.Edges)})
	return nil
}

func emit(level, name, msg string, fields map[string]interface{}) {
	// Only fails for unregistered names.
	_, _ = events.Emit(level, name, msg, fields)
}
