package scenario

import "strings"

// NodeType names the kind of step a node performs.
type NodeType string

const (
	TypeAnnounce    NodeType = "announce"
	TypeAsk         NodeType = "ask"
	TypeAPICall     NodeType = "api_call"
	TypeLLMCall     NodeType = "llm_call"
	TypeNLURequest  NodeType = "nlu-request"
	TypeJump        NodeType = "scenario_jump"
	TypeSubFlow     NodeType = "sub-flow"
	TypeTransfer    NodeType = "transfer"
	TypeEnd         NodeType = "end"
	TypeEndDialog   NodeType = "end_dialog"
	TypeCondition   NodeType = "condition"
	TypeSwitch      NodeType = "switch"
	TypeContextEdit NodeType = "context-edit"
	TypeMenu        NodeType = "menu"
)

// NormalizeType maps legacy spellings onto the current node types.
func NormalizeType(t string) NodeType {
	switch t {
	case "nlu_call":
		return TypeNLURequest
	case "message":
		return TypeAnnounce
	case "input":
		return TypeAsk
	}
	return NodeType(t)
}

// Params is the type-specific parameter record of a node. Each node type has
// exactly one variant; unrecognised types carry UnknownParams.
type Params interface {
	isParams()
}

// AskParams holds the context variable an answer is stored into.
type AskParams struct {
	Variable string
}

// APICallParams describes an outbound HTTP request.
type APICallParams struct {
	URL     string
	Method  string
	Body    string
	Headers map[string]string
}

// LLMParams holds the prompt sent to the language model.
type LLMParams struct {
	Prompt string
}

// NLUParams points at the NLU service used to classify the user input.
type NLUParams struct {
	Service  string
	Endpoint string
}

// JumpParams names the scenario a scenario_jump or sub-flow node enters.
type JumpParams struct {
	TargetScenario string
}

// ContextOp is one context-edit operation (set, delete, add, merge, clear).
type ContextOp struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	Value  any    `json:"value,omitempty"`
}

// ContextEditParams is the ordered list of context operations.
type ContextEditParams struct {
	Operations []ContextOp
}

// ConditionParams keeps the raw newline-separated condition text of a
// condition or switch node. Comment lines are kept verbatim.
type ConditionParams struct {
	Text string
}

// Lines returns the effective condition lines.
func (p *ConditionParams) Lines() []string {
	return ParseConditions(p.Text)
}

// MenuOption is one author-defined menu choice. Value doubles as the handle id.
type MenuOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// MenuParams lists the options of a menu node.
type MenuParams struct {
	Options []MenuOption
}

// UnknownParams preserves the raw parameters of node types this package does
// not know about.
type UnknownParams struct {
	Values map[string]any
}

func (*AskParams) isParams()         {}
func (*APICallParams) isParams()     {}
func (*LLMParams) isParams()         {}
func (*NLUParams) isParams()         {}
func (*JumpParams) isParams()        {}
func (*ContextEditParams) isParams() {}
func (*ConditionParams) isParams()   {}
func (*MenuParams) isParams()        {}
func (*UnknownParams) isParams()     {}

// DefaultParams returns the parameters a freshly added node of type t starts with.
func DefaultParams(t NodeType) Params {
	switch t {
	case TypeAsk:
		return &AskParams{}
	case TypeAPICall:
		return &APICallParams{URL: "https://api.example.com", Method: "GET"}
	case TypeLLMCall:
		return &LLMParams{}
	case TypeNLURequest:
		return &NLUParams{Service: DefaultNLUService, Endpoint: DefaultNLUEndpoint}
	case TypeJump, TypeSubFlow:
		return &JumpParams{}
	case TypeContextEdit:
		return &ContextEditParams{}
	case TypeCondition, TypeSwitch:
		return &ConditionParams{Text: "условие 1\nусловие 2"}
	case TypeMenu:
		return &MenuParams{Options: []MenuOption{{Text: "Вариант 1", Value: "option1"}}}
	case TypeAnnounce, TypeTransfer, TypeEnd, TypeEndDialog:
		return nil
	}
	return &UnknownParams{Values: map[string]any{}}
}

// Default NLU target used when a node does not name one.
const (
	DefaultNLUService  = "nlu-service"
	DefaultNLUEndpoint = "/api/v1/nlu/analyze"
)

// CloneParams deep-copies a parameter record.
func CloneParams(p Params) Params {
	switch v := p.(type) {
	case nil:
		return nil
	case *AskParams:
		cp := *v
		return &cp
	case *APICallParams:
		cp := *v
		if v.Headers != nil {
			cp.Headers = make(map[string]string, len(v.Headers))
			for k, h := range v.Headers {
				cp.Headers[k] = h
			}
		}
		return &cp
	case *LLMParams:
		cp := *v
		return &cp
	case *NLUParams:
		cp := *v
		return &cp
	case *JumpParams:
		cp := *v
		return &cp
	case *ContextEditParams:
		return &ContextEditParams{Operations: append([]ContextOp(nil), v.Operations...)}
	case *ConditionParams:
		cp := *v
		return &cp
	case *MenuParams:
		return &MenuParams{Options: append([]MenuOption(nil), v.Options...)}
	case *UnknownParams:
		cp := &UnknownParams{Values: make(map[string]any, len(v.Values))}
		for k, val := range v.Values {
			cp.Values[k] = val
		}
		return cp
	}
	return p
}

// JoinConditions builds condition text from a list of lines.
func JoinConditions(lines []string) string {
	return strings.Join(lines, "\n")
}
