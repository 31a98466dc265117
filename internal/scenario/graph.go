package scenario

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrEmptyNodeID   = errors.New("node id is empty")
)

// Scenario is the persisted unit: a named dialog flow made of nodes and edges.
// An empty ID means the scenario has never been saved.
type Scenario struct {
	ID             string
	Name           string
	Description    string
	Version        string
	Language       string
	Category       string
	Tags           []string
	IsActive       bool
	IsEntryPoint   bool
	StartNode      string
	Nodes          []Node
	Edges          []Edge
	TriggerIntents []string
}

// Node is a single step of a scenario.
type Node struct {
	ID       string
	Type     NodeType
	Content  string
	Params   Params
	Position Position
}

// Position is the editor layout coordinate. Cosmetic only.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge links a named output of Source to Target.
// An empty SourceHandle means the single unnamed output.
type Edge struct {
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}

// New returns an empty scenario with the editor defaults.
func New(name string) *Scenario {
	return &Scenario{
		Name:     name,
		Version:  "1.0",
		Language: "uk",
		Category: "general",
		IsActive: true,
	}
}

// FindNode returns the node with the given id, or nil.
func (s *Scenario) FindNode(id string) *Node {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// HasNode returns true if the node exists.
func (s *Scenario) HasNode(id string) bool {
	return s.FindNode(id) != nil
}

// EntryNode returns the id of the first node to run: StartNode when set,
// otherwise the first node in the list. Empty when there are no nodes.
func (s *Scenario) EntryNode() string {
	if s.StartNode != "" {
		return s.StartNode
	}
	if len(s.Nodes) > 0 {
		return s.Nodes[0].ID
	}
	return ""
}

// AddNode appends a node. Ids must be unique within the scenario.
func (s *Scenario) AddNode(n Node) error {
	if n.ID == "" {
		return ErrEmptyNodeID
	}
	if s.HasNode(n.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	s.Nodes = append(s.Nodes, n)
	return nil
}

// RemoveNode deletes a node and every edge that touches it.
func (s *Scenario) RemoveNode(id string) error {
	idx := -1
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	s.Nodes = append(s.Nodes[:idx], s.Nodes[idx+1:]...)

	kept := s.Edges[:0]
	for _, e := range s.Edges {
		if e.Source == id || e.Target == id {
			continue
		}
		kept = append(kept, e)
	}
	s.Edges = kept

	if s.StartNode == id {
		s.StartNode = ""
	}
	return nil
}

// RenameNode changes a node id and rewrites every reference to it
// (edge sources, edge targets, the start node) in one step.
func (s *Scenario) RenameNode(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	if newID == "" {
		return ErrEmptyNodeID
	}
	n := s.FindNode(oldID)
	if n == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, oldID)
	}
	if s.HasNode(newID) {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, newID)
	}
	n.ID = newID
	for i := range s.Edges {
		if s.Edges[i].Source == oldID {
			s.Edges[i].Source = newID
		}
		if s.Edges[i].Target == oldID {
			s.Edges[i].Target = newID
		}
	}
	if s.StartNode == oldID {
		s.StartNode = newID
	}
	return nil
}

// Connect appends an edge. Neither endpoint nor the handle is checked:
// targets may be created later.
func (s *Scenario) Connect(source, target, sourceHandle string) Edge {
	e := Edge{Source: source, Target: target, SourceHandle: sourceHandle}
	s.Edges = append(s.Edges, e)
	return e
}

// Disconnect removes edges matching source, target and handle.
// Returns the number of edges removed.
func (s *Scenario) Disconnect(source, target, sourceHandle string) int {
	removed := 0
	kept := s.Edges[:0]
	for _, e := range s.Edges {
		if e.Source == source && e.Target == target && e.SourceHandle == sourceHandle {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.Edges = kept
	return removed
}

// OutgoingEdges returns the edges leaving a node. For multi-output nodes with
// positional handles the edges are ordered by handle index.
func (s *Scenario) OutgoingEdges(id string) []Edge {
	var out []Edge
	for _, e := range s.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	n := s.FindNode(id)
	if n != nil && PolicyFor(n.Type).Cardinality == ByConditions {
		SortByHandle(out)
	}
	return out
}

// SortByHandle orders edges by the numeric suffix of their output-N handle.
// Edges without a positional handle keep their relative order after the
// positional ones.
func SortByHandle(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, okA := HandleIndex(edges[i].SourceHandle)
		b, okB := HandleIndex(edges[j].SourceHandle)
		switch {
		case okA && okB:
			return a < b
		case okA:
			return true
		default:
			return false
		}
	})
}

// Adjacency maps each node id to the ordered list of its targets.
func (s *Scenario) Adjacency() map[string][]string {
	adj := make(map[string][]string, len(s.Nodes))
	for _, n := range s.Nodes {
		for _, e := range s.OutgoingEdges(n.ID) {
			adj[n.ID] = append(adj[n.ID], e.Target)
		}
	}
	return adj
}

// Reachable returns every node id reachable from the entry node, the entry
// node included.
func (s *Scenario) Reachable() map[string]bool {
	visited := make(map[string]bool)
	start := s.EntryNode()
	if start == "" {
		return visited
	}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}
		visited[current] = true

		for _, e := range s.Edges {
			if e.Source == current && !visited[e.Target] {
				queue = append(queue, e.Target)
			}
		}
	}
	return visited
}

// Clone returns a deep copy.
func (s *Scenario) Clone() *Scenario {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Tags = append([]string(nil), s.Tags...)
	cp.TriggerIntents = append([]string(nil), s.TriggerIntents...)
	cp.Edges = append([]Edge(nil), s.Edges...)
	cp.Nodes = make([]Node, len(s.Nodes))
	for i, n := range s.Nodes {
		n.Params = CloneParams(n.Params)
		cp.Nodes[i] = n
	}
	return &cp
}
