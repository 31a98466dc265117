package scenario

import (
	"fmt"
	"strings"
)

// Warning codes reported by Validate.
const (
	WarnDuplicateNode  = "duplicate_node"
	WarnMissingSource  = "missing_source"
	WarnMissingTarget  = "missing_target"
	WarnUnknownType    = "unknown_type"
	WarnNoStartNode    = "no_start_node"
	WarnUnknownStart   = "unknown_start_node"
	WarnUnknownHandle  = "unknown_handle"
	WarnTerminalOutput = "terminal_has_output"
	WarnNoConditions   = "no_conditions"
	WarnNoURL          = "api_call_without_url"
	WarnNoTarget       = "jump_without_target"
	WarnUnreachable    = "unreachable_node"
)

// Warning is a non-blocking problem found in a scenario.
type Warning struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.NodeID == "" {
		return fmt.Sprintf("%s: %s", w.Code, w.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", w.Code, w.NodeID, w.Message)
}

// Validate checks a scenario before it is published. The graph is never
// rejected; every finding is returned as a warning.
func Validate(s *Scenario) []Warning {
	var warnings []Warning
	add := func(code, node, format string, args ...any) {
		warnings = append(warnings, Warning{Code: code, NodeID: node, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if seen[n.ID] {
			add(WarnDuplicateNode, n.ID, "node id %q is used more than once", n.ID)
		}
		seen[n.ID] = true

		p := PolicyFor(n.Type)
		if !p.Known {
			add(WarnUnknownType, n.ID, "unknown node type %q", n.Type)
		}

		switch params := n.Params.(type) {
		case *ConditionParams:
			if len(params.Lines()) == 0 {
				add(WarnNoConditions, n.ID, "condition node has no conditions")
			}
		case *APICallParams:
			if strings.TrimSpace(params.URL) == "" {
				add(WarnNoURL, n.ID, "api_call node has no url")
			}
		case *JumpParams:
			if strings.TrimSpace(params.TargetScenario) == "" {
				add(WarnNoTarget, n.ID, "%s node has no target scenario", n.Type)
			}
		case nil:
			if p.Cardinality == ByConditions {
				add(WarnNoConditions, n.ID, "condition node has no conditions")
			}
		}
	}

	if len(s.Nodes) > 0 {
		switch {
		case s.StartNode == "":
			add(WarnNoStartNode, "", "start node is not set, %q will be used", s.Nodes[0].ID)
		case !seen[s.StartNode]:
			add(WarnUnknownStart, s.StartNode, "start node %q does not exist", s.StartNode)
		}
	}

	for _, e := range s.Edges {
		src := s.FindNode(e.Source)
		if src == nil {
			add(WarnMissingSource, e.Source, "edge %s -> %s has no source node", e.Source, e.Target)
		}
		if !seen[e.Target] {
			add(WarnMissingTarget, e.Target, "edge %s -> %s points at a missing node", e.Source, e.Target)
		}
		if src == nil {
			continue
		}
		if PolicyFor(src.Type).Cardinality == None {
			add(WarnTerminalOutput, src.ID, "%s node has an outgoing edge to %s", src.Type, e.Target)
			continue
		}
		if !HasOutput(src, e.SourceHandle) {
			add(WarnUnknownHandle, src.ID, "handle %q is not an output of this node", e.SourceHandle)
		}
	}

	reachable := s.Reachable()
	for _, n := range s.Nodes {
		if !reachable[n.ID] {
			add(WarnUnreachable, n.ID, "node is not reachable from the start node")
		}
	}
	return warnings
}
