// Package codec converts scenarios between the canonical graph model and the
// JSON shapes used by the storage service and older exports.
package codec

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

// Envelope is the storage representation of a scenario.
type Envelope struct {
	ID             string        `json:"id,omitempty"`
	Name           string        `json:"name" validate:"required,max=200"`
	Description    string        `json:"description" validate:"max=2000"`
	Version        string        `json:"version"`
	Language       string        `json:"language"`
	Category       string        `json:"category"`
	Tags           []string      `json:"tags" validate:"dive,required"`
	IsActive       *bool         `json:"is_active,omitempty"`
	IsEntryPoint   bool          `json:"is_entry_point"`
	TriggerIntents []string      `json:"trigger_intents,omitempty"`
	ScenarioData   *ScenarioData `json:"scenario_data,omitempty"`

	// Bare and legacy exports keep the graph at the top level.
	StartNode string     `json:"start_node,omitempty"`
	Nodes     []WireNode `json:"nodes,omitempty"`
	Edges     []WireEdge `json:"edges,omitempty"`
}

// ScenarioData is the graph part of an envelope.
type ScenarioData struct {
	StartNode string     `json:"start_node"`
	Nodes     []WireNode `json:"nodes"`
	Edges     []WireEdge `json:"edges"`
}

// WireNode is a stored node. Besides the current fields it carries the flat
// fields of the legacy format, which are read but never written.
type WireNode struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Content    string             `json:"content,omitempty"`
	Parameters json.RawMessage    `json:"parameters,omitempty"`
	NextNodes  []string           `json:"next_nodes"`
	Position   *scenario.Position `json:"position,omitempty"`

	// nlu-request
	Service    string          `json:"service,omitempty"`
	Endpoint   string          `json:"endpoint,omitempty"`
	Conditions json.RawMessage `json:"conditions,omitempty"`

	// legacy flat node
	Variable       string       `json:"variable,omitempty"`
	Condition      string       `json:"condition,omitempty"`
	URL            string       `json:"url,omitempty"`
	Method         string       `json:"method,omitempty"`
	Prompt         string       `json:"prompt,omitempty"`
	APIURL         string       `json:"api_url,omitempty"`
	APIMethod      string       `json:"api_method,omitempty"`
	TargetScenario string       `json:"target_scenario,omitempty"`
	Options        []WireOption `json:"options,omitempty"`
	NextNode       string       `json:"next_node,omitempty"`
	TrueNode       string       `json:"true_node,omitempty"`
	FalseNode      string       `json:"false_node,omitempty"`
}

// WireEdge is a stored edge. Handles are null for single-output nodes.
type WireEdge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle *string `json:"sourceHandle"`
	TargetHandle *string `json:"targetHandle"`
}

// WireOption is a menu option. NextNode only appears in legacy exports.
type WireOption struct {
	Text     string `json:"text"`
	Value    string `json:"value"`
	NextNode string `json:"next_node,omitempty"`
}

// WireParams is the parameter bag of known node types.
type WireParams struct {
	Message        string                `json:"message,omitempty"`
	Question       string                `json:"question,omitempty"`
	Variable       string                `json:"variable,omitempty"`
	Conditions     Conditions            `json:"conditions,omitempty"`
	URL            string                `json:"url,omitempty"`
	Method         string                `json:"method,omitempty"`
	Body           any                   `json:"body,omitempty"`
	Headers        Headers               `json:"headers,omitempty"`
	Prompt         string                `json:"prompt,omitempty"`
	Service        string                `json:"service,omitempty"`
	Endpoint       string                `json:"endpoint,omitempty"`
	TargetScenario string                `json:"target_scenario,omitempty"`
	Operations     []scenario.ContextOp  `json:"operations,omitempty"`
	Options        []WireOption          `json:"options,omitempty"`
}

// NLUConditions routes an nlu-request node by classification outcome.
type NLUConditions struct {
	Success string `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Conditions accepts either a JSON list of lines or a single newline
// separated string. It is always written as a list.
type Conditions []string

func (c *Conditions) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = splitLines(text)
		return nil
	}
	var list []any
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	out := make(Conditions, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	*c = out
	return nil
}

// Headers accepts header values of any JSON type, since editors store the
// parsed form input. Numbers and booleans are formatted, objects and arrays
// are kept as compact JSON, nulls are dropped. A string holding a JSON
// object is parsed as well; any other shape is ignored.
type Headers map[string]string

func (h *Headers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var text string
		if json.Unmarshal(data, &text) != nil || json.Unmarshal([]byte(text), &raw) != nil {
			*h = nil
			return nil
		}
	}
	out := make(Headers, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if v = bytes.TrimSpace(v); len(v) == 0 || string(v) == "null" {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			continue
		}
		out[k] = buf.String()
	}
	*h = out
	return nil
}

// Text joins the lines back into editor text.
func (c Conditions) Text() string {
	return strings.Join(c, "\n")
}

// splitLines keeps comment lines, drops blank ones.
func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func handlePtr(h string) *string {
	if h == "" {
		return nil
	}
	return &h
}

func handleValue(h *string) string {
	if h == nil {
		return ""
	}
	return *h
}
