package scenario

import (
	"fmt"
	"strconv"
	"strings"
)

// Cardinality describes how many outputs a node type exposes.
type Cardinality int

const (
	// None: terminal node, no outputs.
	None Cardinality = iota
	// Single: one unnamed output.
	Single
	// ByConditions: one output per condition line plus a trailing ELSE.
	ByConditions
	// ByOptions: one output per menu option, keyed by the option value.
	ByOptions
)

func (c Cardinality) String() string {
	switch c {
	case None:
		return "none"
	case Single:
		return "single"
	case ByConditions:
		return "by_conditions"
	case ByOptions:
		return "by_options"
	}
	return "unknown"
}

// Policy is the per-type behaviour consulted by the editor, the codec and
// the validator.
type Policy struct {
	Cardinality    Cardinality
	Known          bool
	DefaultContent string
	Label          string
}

var policies = map[NodeType]Policy{
	TypeAnnounce:    {Single, true, "Новое сообщение", "Сообщение"},
	TypeAsk:         {Single, true, "Новый вопрос", "Вопрос"},
	TypeAPICall:     {Single, true, "API запрос", "API запрос"},
	TypeLLMCall:     {Single, true, "Запрос к LLM", "LLM"},
	TypeNLURequest:  {Single, true, "NLU анализ", "NLU"},
	TypeJump:        {Single, true, "Переход в сценарий", "Переход"},
	TypeSubFlow:     {Single, true, "Подсценарий", "Подсценарий"},
	TypeTransfer:    {Single, true, "Перевод на оператора", "Перевод"},
	TypeEnd:         {None, true, "Конец диалога", "Конец"},
	TypeEndDialog:   {None, true, "Конец диалога", "Конец"},
	TypeCondition:   {ByConditions, true, "Условие", "Условие"},
	TypeSwitch:      {ByConditions, true, "Переключатель", "Переключатель"},
	TypeContextEdit: {Single, true, "Изменение контекста", "Контекст"},
	TypeMenu:        {ByOptions, true, "Выберите вариант", "Меню"},
}

// PolicyFor returns the policy of t. Unknown types behave as single-output
// nodes and are reported with Known=false.
func PolicyFor(t NodeType) Policy {
	if p, ok := policies[NormalizeType(string(t))]; ok {
		return p
	}
	return Policy{Cardinality: Single, DefaultContent: "Узел", Label: string(t)}
}

// KnownTypes lists the node types the policy table describes.
func KnownTypes() []NodeType {
	return []NodeType{
		TypeAnnounce, TypeAsk, TypeAPICall, TypeLLMCall, TypeNLURequest,
		TypeJump, TypeSubFlow, TypeTransfer, TypeEnd, TypeEndDialog,
		TypeCondition, TypeSwitch, TypeContextEdit, TypeMenu,
	}
}

// HandleID returns the positional handle id for output i.
func HandleID(i int) string {
	return fmt.Sprintf("output-%d", i)
}

// HandleIndex parses an "output-N" handle. ok is false for any other form.
func HandleIndex(handle string) (int, bool) {
	rest, found := strings.CutPrefix(handle, "output-")
	if !found || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseConditions splits condition text into effective lines. Blank lines and
// lines starting with // or # are skipped.
func ParseConditions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Outputs returns the output handle ids of n in order. Single-output nodes
// yield one empty handle.
func Outputs(n *Node) []string {
	switch PolicyFor(n.Type).Cardinality {
	case None:
		return nil
	case ByConditions:
		var lines []string
		if p, ok := n.Params.(*ConditionParams); ok {
			lines = p.Lines()
		}
		out := make([]string, 0, len(lines)+1)
		for i := range lines {
			out = append(out, HandleID(i))
		}
		// ELSE
		return append(out, HandleID(len(lines)))
	case ByOptions:
		p, ok := n.Params.(*MenuParams)
		if !ok {
			return nil
		}
		out := make([]string, 0, len(p.Options))
		for _, o := range p.Options {
			out = append(out, o.Value)
		}
		return out
	}
	return []string{""}
}

// NLU result handles. An nlu-request node has a single output, but the
// editor may label its edges with the classification outcome.
const (
	HandleSuccess = "success"
	HandleError   = "error"
)

// HasOutput reports whether n produces the given handle.
func HasOutput(n *Node, handle string) bool {
	if NormalizeType(string(n.Type)) == TypeNLURequest && (handle == HandleSuccess || handle == HandleError) {
		return true
	}
	for _, h := range Outputs(n) {
		if h == handle {
			return true
		}
	}
	return false
}
