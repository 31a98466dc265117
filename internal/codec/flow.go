package codec

import (
	"maps"

	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

// FlowNodeType is the renderer node type every scenario node is drawn with.
const FlowNodeType = "custom"

// Flow is the editor-native form of a scenario graph: one record per node
// with its data flattened for the rendering surface.
type Flow struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

type FlowNode struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Position scenario.Position `json:"position"`
	Data     FlowData          `json:"data"`
}

type FlowData struct {
	Type           string               `json:"type"`
	Content        string               `json:"content"`
	Variable       string               `json:"variable,omitempty"`
	Conditions     []string             `json:"conditions,omitempty"`
	URL            string               `json:"url,omitempty"`
	Method         string               `json:"method,omitempty"`
	Body           string               `json:"body,omitempty"`
	Headers        map[string]string    `json:"headers,omitempty"`
	Prompt         string               `json:"prompt,omitempty"`
	TargetScenario string               `json:"target_scenario,omitempty"`
	Service        string               `json:"service,omitempty"`
	Endpoint       string               `json:"endpoint,omitempty"`
	Options        []WireOption         `json:"options,omitempty"`
	Operations     []scenario.ContextOp `json:"operations,omitempty"`
	Outputs        []string             `json:"outputs"`

	// Params carries the raw parameters of node types without a form.
	Params map[string]any `json:"params,omitempty"`
}

type FlowEdge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle *string `json:"sourceHandle"`
	TargetHandle *string `json:"targetHandle"`
}

// ToFlow projects s into editor records. Outputs lists the handle ids the
// renderer should draw for each node.
func ToFlow(s *scenario.Scenario) Flow {
	f := Flow{
		Nodes: make([]FlowNode, 0, len(s.Nodes)),
		Edges: make([]FlowEdge, 0, len(s.Edges)),
	}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		d := FlowData{Type: string(n.Type), Content: n.Content, Outputs: scenario.Outputs(n)}
		if d.Outputs == nil {
			d.Outputs = []string{}
		}
		switch p := n.Params.(type) {
		case *scenario.AskParams:
			d.Variable = p.Variable
		case *scenario.APICallParams:
			d.URL, d.Method, d.Body = p.URL, p.Method, p.Body
			d.Headers = maps.Clone(p.Headers)
		case *scenario.LLMParams:
			d.Prompt = p.Prompt
		case *scenario.NLUParams:
			d.Service, d.Endpoint = p.Service, p.Endpoint
		case *scenario.JumpParams:
			d.TargetScenario = p.TargetScenario
		case *scenario.ContextEditParams:
			d.Operations = p.Operations
		case *scenario.ConditionParams:
			d.Conditions = splitLines(p.Text)
		case *scenario.MenuParams:
			for _, o := range p.Options {
				d.Options = append(d.Options, WireOption{Text: o.Text, Value: o.Value})
			}
		case *scenario.UnknownParams:
			d.Params = maps.Clone(p.Values)
		}
		f.Nodes = append(f.Nodes, FlowNode{ID: n.ID, Type: FlowNodeType, Position: n.Position, Data: d})
	}
	for _, e := range s.Edges {
		f.Edges = append(f.Edges, FlowEdge{
			ID:           edgeID(e),
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: handlePtr(e.SourceHandle),
			TargetHandle: handlePtr(e.TargetHandle),
		})
	}
	return f
}

// FromFlow rebuilds the graph part of a scenario from editor records.
// Metadata is left at the defaults; callers copy it from their own state.
func FromFlow(f Flow) *scenario.Scenario {
	s := scenario.New("")
	for _, fn := range f.Nodes {
		d := fn.Data
		typ := scenario.NormalizeType(d.Type)
		n := scenario.Node{ID: fn.ID, Type: typ, Content: d.Content, Position: fn.Position}
		switch typ {
		case scenario.TypeAsk:
			n.Params = &scenario.AskParams{Variable: d.Variable}
		case scenario.TypeAPICall:
			n.Params = &scenario.APICallParams{
				URL:     d.URL,
				Method:  d.Method,
				Body:    d.Body,
				Headers: maps.Clone(d.Headers),
			}
		case scenario.TypeLLMCall:
			n.Params = &scenario.LLMParams{Prompt: d.Prompt}
		case scenario.TypeNLURequest:
			n.Params = &scenario.NLUParams{
				Service:  firstNonEmpty(d.Service, scenario.DefaultNLUService),
				Endpoint: firstNonEmpty(d.Endpoint, scenario.DefaultNLUEndpoint),
			}
		case scenario.TypeJump, scenario.TypeSubFlow:
			n.Params = &scenario.JumpParams{TargetScenario: d.TargetScenario}
		case scenario.TypeContextEdit:
			n.Params = &scenario.ContextEditParams{Operations: d.Operations}
		case scenario.TypeCondition, scenario.TypeSwitch:
			n.Params = &scenario.ConditionParams{Text: Conditions(d.Conditions).Text()}
		case scenario.TypeMenu:
			mp := &scenario.MenuParams{}
			for _, o := range d.Options {
				mp.Options = append(mp.Options, scenario.MenuOption{Text: o.Text, Value: o.Value})
			}
			n.Params = mp
		case scenario.TypeAnnounce, scenario.TypeTransfer, scenario.TypeEnd, scenario.TypeEndDialog:
		default:
			values := maps.Clone(d.Params)
			if values == nil {
				values = map[string]any{}
			}
			n.Params = &scenario.UnknownParams{Values: values}
		}
		s.Nodes = append(s.Nodes, n)
	}
	for _, fe := range f.Edges {
		s.Edges = append(s.Edges, scenario.Edge{
			Source:       fe.Source,
			Target:       fe.Target,
			SourceHandle: handleValue(fe.SourceHandle),
			TargetHandle: handleValue(fe.TargetHandle),
		})
	}
	return s
}

func edgeID(e scenario.Edge) string {
	id := e.Source + "-" + e.Target
	if e.SourceHandle != "" {
		id += "-" + e.SourceHandle
	}
	return id
}
