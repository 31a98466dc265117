package codec

import (
	"encoding/json"

	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

// Encode builds the storage envelope of s. Explicit edges are always written;
// next_nodes is derived from them for consumers that only read adjacency
// lists. Outgoing edges of condition and switch nodes are ordered by handle
// index so that next_nodes positions line up with output-N.
func Encode(s *scenario.Scenario) *Envelope {
	active := s.IsActive
	env := &Envelope{
		ID:             s.ID,
		Name:           s.Name,
		Description:    s.Description,
		Version:        firstNonEmpty(s.Version, "1.0"),
		Language:       firstNonEmpty(s.Language, "uk"),
		Category:       s.Category,
		Tags:           append([]string{}, s.Tags...),
		IsActive:       &active,
		IsEntryPoint:   s.IsEntryPoint,
		TriggerIntents: append([]string(nil), s.TriggerIntents...),
		ScenarioData: &ScenarioData{
			StartNode: s.EntryNode(),
			Nodes:     make([]WireNode, 0, len(s.Nodes)),
			Edges:     make([]WireEdge, 0, len(s.Edges)),
		},
	}

	for i := range s.Nodes {
		env.ScenarioData.Nodes = append(env.ScenarioData.Nodes, encodeNode(s, &s.Nodes[i]))
	}
	for _, e := range s.Edges {
		env.ScenarioData.Edges = append(env.ScenarioData.Edges, WireEdge{
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: handlePtr(e.SourceHandle),
			TargetHandle: handlePtr(e.TargetHandle),
		})
	}
	return env
}

// Marshal encodes s as indented JSON, the export format.
func Marshal(s *scenario.Scenario) ([]byte, error) {
	return json.MarshalIndent(Encode(s), "", "  ")
}

func encodeNode(s *scenario.Scenario, n *scenario.Node) WireNode {
	out := s.OutgoingEdges(n.ID)
	w := WireNode{
		ID:        n.ID,
		Type:      string(n.Type),
		Content:   n.Content,
		NextNodes: make([]string, 0, len(out)),
	}
	if n.Position != (scenario.Position{}) {
		pos := n.Position
		w.Position = &pos
	}
	for _, e := range out {
		w.NextNodes = append(w.NextNodes, e.Target)
	}

	var p WireParams
	if n.Type == scenario.TypeAsk {
		p.Question = n.Content
	} else {
		p.Message = n.Content
	}

	switch v := n.Params.(type) {
	case *scenario.AskParams:
		p.Variable = v.Variable
	case *scenario.APICallParams:
		p.URL, p.Method, p.Headers = v.URL, v.Method, v.Headers
		if v.Body != "" {
			p.Body = v.Body
		}
	case *scenario.LLMParams:
		p.Prompt = v.Prompt
	case *scenario.NLUParams:
		p.Service, p.Endpoint = v.Service, v.Endpoint
		w.Service, w.Endpoint = v.Service, v.Endpoint
		w.Conditions = encodeNLUConditions(out)
	case *scenario.JumpParams:
		p.TargetScenario = v.TargetScenario
	case *scenario.ContextEditParams:
		p.Operations = v.Operations
	case *scenario.ConditionParams:
		p.Conditions = splitLines(v.Text)
	case *scenario.MenuParams:
		for _, o := range v.Options {
			p.Options = append(p.Options, WireOption{Text: o.Text, Value: o.Value})
		}
	case *scenario.UnknownParams:
		values := make(map[string]any, len(v.Values)+1)
		for k, val := range v.Values {
			values[k] = val
		}
		if _, ok := values["message"]; !ok && n.Content != "" {
			values["message"] = n.Content
		}
		w.Parameters, _ = json.Marshal(values)
		return w
	}

	w.Parameters, _ = json.Marshal(p)
	return w
}

func encodeNLUConditions(out []scenario.Edge) json.RawMessage {
	var c NLUConditions
	for _, e := range out {
		switch e.SourceHandle {
		case scenario.HandleSuccess:
			c.Success = e.Target
		case scenario.HandleError:
			c.Error = e.Target
		}
	}
	if c.Success == "" {
		for _, e := range out {
			if e.SourceHandle != scenario.HandleError {
				c.Success = e.Target
				break
			}
		}
	}
	if c == (NLUConditions{}) {
		return nil
	}
	data, _ := json.Marshal(c)
	return data
}
