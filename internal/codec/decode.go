package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

// ErrMalformed is returned when the input is not a scenario document.
var ErrMalformed = errors.New("malformed scenario document")

// DefaultContent is the display text of a node that has none.
const DefaultContent = "Узел"

// Decode parses any supported scenario shape: the storage envelope (preferred
// when scenario_data is present), the bare {nodes, edges} export, or the
// legacy flat-node format. Unknown node types and dangling edges are kept.
func Decode(data []byte) (*scenario.Scenario, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromEnvelope(&env)
}

// Unmarshal is an alias of Decode.
func Unmarshal(data []byte) (*scenario.Scenario, error) {
	return Decode(data)
}

// FromEnvelope converts an already parsed document.
func FromEnvelope(env *Envelope) (*scenario.Scenario, error) {
	s := scenario.New(env.Name)
	s.ID = env.ID
	s.Description = env.Description
	if env.Version != "" {
		s.Version = env.Version
	}
	if env.Language != "" {
		s.Language = env.Language
	}
	if env.Category != "" {
		s.Category = env.Category
	}
	if env.IsActive != nil {
		s.IsActive = *env.IsActive
	}
	s.IsEntryPoint = env.IsEntryPoint
	s.Tags = append([]string(nil), env.Tags...)
	s.TriggerIntents = append([]string(nil), env.TriggerIntents...)

	nodes, edges, start := env.Nodes, env.Edges, env.StartNode
	if env.ScenarioData != nil {
		nodes, edges, start = env.ScenarioData.Nodes, env.ScenarioData.Edges, env.ScenarioData.StartNode
	}
	s.StartNode = start

	for i := range nodes {
		n, err := decodeNode(&nodes[i])
		if err != nil {
			return nil, err
		}
		s.Nodes = append(s.Nodes, n)
	}

	if len(edges) > 0 {
		for _, e := range edges {
			s.Edges = append(s.Edges, scenario.Edge{
				Source:       e.Source,
				Target:       e.Target,
				SourceHandle: handleValue(e.SourceHandle),
				TargetHandle: handleValue(e.TargetHandle),
			})
		}
	} else {
		s.Edges = synthesizeEdges(nodes)
	}
	return s, nil
}

func decodeNode(w *WireNode) (scenario.Node, error) {
	if w.ID == "" {
		return scenario.Node{}, fmt.Errorf("%w: node without id", ErrMalformed)
	}
	typ := scenario.NormalizeType(w.Type)
	n := scenario.Node{ID: w.ID, Type: typ}
	if w.Position != nil {
		n.Position = *w.Position
	}

	if !scenario.PolicyFor(typ).Known {
		values := map[string]any{}
		if len(w.Parameters) > 0 {
			if err := json.Unmarshal(w.Parameters, &values); err != nil {
				return scenario.Node{}, fmt.Errorf("%w: node %s parameters: %v", ErrMalformed, w.ID, err)
			}
		}
		n.Content = firstNonEmpty(stringValue(values["message"]), stringValue(values["question"]), w.Content, DefaultContent)
		n.Params = &scenario.UnknownParams{Values: values}
		return n, nil
	}

	var p WireParams
	if len(w.Parameters) > 0 && string(w.Parameters) != "null" {
		if err := json.Unmarshal(w.Parameters, &p); err != nil {
			return scenario.Node{}, fmt.Errorf("%w: node %s parameters: %v", ErrMalformed, w.ID, err)
		}
	}
	n.Content = firstNonEmpty(p.Message, p.Question, w.Content, DefaultContent)

	switch typ {
	case scenario.TypeAsk:
		n.Params = &scenario.AskParams{Variable: firstNonEmpty(p.Variable, w.Variable)}
	case scenario.TypeAPICall:
		n.Params = &scenario.APICallParams{
			URL:     firstNonEmpty(p.URL, w.URL, w.APIURL),
			Method:  firstNonEmpty(p.Method, w.Method, w.APIMethod),
			Body:    bodyText(p.Body),
			Headers: p.Headers,
		}
	case scenario.TypeLLMCall:
		n.Params = &scenario.LLMParams{Prompt: firstNonEmpty(p.Prompt, w.Prompt)}
	case scenario.TypeNLURequest:
		n.Params = &scenario.NLUParams{
			Service:  firstNonEmpty(w.Service, p.Service, scenario.DefaultNLUService),
			Endpoint: firstNonEmpty(w.Endpoint, p.Endpoint, scenario.DefaultNLUEndpoint),
		}
	case scenario.TypeJump, scenario.TypeSubFlow:
		n.Params = &scenario.JumpParams{TargetScenario: firstNonEmpty(p.TargetScenario, w.TargetScenario)}
	case scenario.TypeContextEdit:
		n.Params = &scenario.ContextEditParams{Operations: p.Operations}
	case scenario.TypeCondition, scenario.TypeSwitch:
		text := p.Conditions.Text()
		if text == "" {
			text = topLevelConditions(w.Conditions).Text()
		}
		if text == "" {
			text = w.Condition
		}
		n.Params = &scenario.ConditionParams{Text: text}
	case scenario.TypeMenu:
		opts := p.Options
		if len(opts) == 0 {
			opts = w.Options
		}
		mp := &scenario.MenuParams{}
		for _, o := range opts {
			mp.Options = append(mp.Options, scenario.MenuOption{Text: o.Text, Value: o.Value})
		}
		n.Params = mp
	}
	return n, nil
}

// synthesizeEdges rebuilds adjacency for documents without explicit edges.
// Positional next_nodes on condition and switch nodes map to output-<index>.
func synthesizeEdges(nodes []WireNode) []scenario.Edge {
	var edges []scenario.Edge
	seen := make(map[scenario.Edge]bool)
	add := func(src, dst, handle string) {
		if dst == "" {
			return
		}
		e := scenario.Edge{Source: src, Target: dst, SourceHandle: handle}
		if seen[e] {
			return
		}
		seen[e] = true
		edges = append(edges, e)
	}

	for i := range nodes {
		w := &nodes[i]
		typ := scenario.NormalizeType(w.Type)
		card := scenario.PolicyFor(typ).Cardinality

		var opts []WireOption
		if card == scenario.ByOptions {
			opts = menuOptions(w)
		}

		for idx, target := range w.NextNodes {
			switch {
			case card == scenario.ByConditions:
				add(w.ID, target, scenario.HandleID(idx))
			case card == scenario.ByOptions && idx < len(opts):
				add(w.ID, target, opts[idx].Value)
			default:
				add(w.ID, target, "")
			}
		}

		if typ == scenario.TypeNLURequest && len(w.NextNodes) == 0 {
			if c, ok := nluConditions(w.Conditions); ok {
				add(w.ID, c.Success, scenario.HandleSuccess)
				add(w.ID, c.Error, scenario.HandleError)
			}
		}

		// legacy flat fields
		add(w.ID, w.NextNode, "")
		add(w.ID, w.TrueNode, scenario.HandleID(0))
		add(w.ID, w.FalseNode, scenario.HandleID(1))
		for _, o := range opts {
			add(w.ID, o.NextNode, o.Value)
		}
	}
	return edges
}

// menuOptions returns the options stored under parameters, falling back to
// the legacy top-level list.
func menuOptions(w *WireNode) []WireOption {
	var p struct {
		Options []WireOption `json:"options"`
	}
	if len(w.Parameters) > 0 && json.Unmarshal(w.Parameters, &p) == nil && len(p.Options) > 0 {
		return p.Options
	}
	return w.Options
}

func nluConditions(raw json.RawMessage) (NLUConditions, bool) {
	var c NLUConditions
	if len(raw) == 0 || raw[0] != '{' {
		return c, false
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, false
	}
	return c, true
}

func topLevelConditions(raw json.RawMessage) Conditions {
	var c Conditions
	if len(raw) == 0 || raw[0] == '{' {
		return nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return c
}

func bodyText(v any) string {
	switch b := v.(type) {
	case nil:
		return ""
	case string:
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
