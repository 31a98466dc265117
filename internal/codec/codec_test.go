package codec

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

func greeting() *scenario.Scenario {
	s := scenario.New("greeting")
	s.StartNode = "a"
	s.Nodes = []scenario.Node{
		{ID: "a", Type: scenario.TypeAnnounce, Content: "Hello"},
		{ID: "b", Type: scenario.TypeAsk, Content: "Name?", Params: &scenario.AskParams{Variable: "name"}},
		{ID: "c", Type: scenario.TypeEnd, Content: "Bye"},
	}
	s.Connect("a", "b", "")
	s.Connect("b", "c", "")
	return s
}

func branching() *scenario.Scenario {
	s := scenario.New("branching")
	s.StartNode = "cond"
	s.Nodes = []scenario.Node{
		{ID: "cond", Type: scenario.TypeCondition, Content: "Check", Params: &scenario.ConditionParams{Text: "a\nb"}},
		{ID: "X", Type: scenario.TypeAnnounce, Content: "x"},
		{ID: "Y", Type: scenario.TypeAnnounce, Content: "y"},
		{ID: "Z", Type: scenario.TypeAnnounce, Content: "z"},
	}
	// created out of order on purpose
	s.Connect("cond", "Z", "output-2")
	s.Connect("cond", "X", "output-0")
	s.Connect("cond", "Y", "output-1")
	return s
}

func TestRoundTrip(t *testing.T) {
	data, err := Marshal(greeting())
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "greeting", got.Name)
	assert.Equal(t, "a", got.StartNode)
	require.Len(t, got.Nodes, 3)
	assert.Equal(t, scenario.TypeAnnounce, got.Nodes[0].Type)
	assert.Equal(t, scenario.TypeAsk, got.Nodes[1].Type)
	assert.Equal(t, scenario.TypeEnd, got.Nodes[2].Type)
	assert.Equal(t, "Name?", got.Nodes[1].Content)
	assert.Equal(t, &scenario.AskParams{Variable: "name"}, got.Nodes[1].Params)
	assert.Equal(t, map[string][]string{"a": {"b"}, "b": {"c"}}, got.Adjacency())
}

func TestEncodeConditionOrdering(t *testing.T) {
	env := Encode(branching())
	require.NotNil(t, env.ScenarioData)
	assert.Equal(t, []string{"X", "Y", "Z"}, env.ScenarioData.Nodes[0].NextNodes)
}

func TestNextNodesSynthesisMatchesPolicy(t *testing.T) {
	env := Encode(branching())
	env.ScenarioData.Edges = nil

	data, err := json.Marshal(env)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	out := got.OutgoingEdges("cond")
	require.Len(t, out, 3)
	for i, want := range []string{"X", "Y", "Z"} {
		assert.Equal(t, want, out[i].Target)
		assert.Equal(t, scenario.HandleID(i), out[i].SourceHandle)
	}
	// the last handle is the ELSE output of a two-condition node
	outputs := scenario.Outputs(got.FindNode("cond"))
	assert.Equal(t, outputs[len(outputs)-1], out[2].SourceHandle)
}

func TestEncodeWritesExplicitEdges(t *testing.T) {
	env := Encode(greeting())
	require.Len(t, env.ScenarioData.Edges, 2)
	assert.Nil(t, env.ScenarioData.Edges[0].SourceHandle)

	data, err := json.Marshal(env.ScenarioData.Edges[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"a","target":"b","sourceHandle":null,"targetHandle":null}`, string(data))
}

func TestDecodePrefersEnvelope(t *testing.T) {
	doc := `{
		"name": "env",
		"nodes": [{"id": "bare", "type": "announce"}],
		"scenario_data": {
			"start_node": "n1",
			"nodes": [{"id": "n1", "type": "announce", "parameters": {"message": "hi"}}],
			"edges": []
		}
	}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, s.Nodes, 1)
	assert.Equal(t, "n1", s.Nodes[0].ID)
	assert.Equal(t, "hi", s.Nodes[0].Content)
}

func TestDecodeContentFallback(t *testing.T) {
	doc := `{"nodes": [
		{"id": "m", "type": "announce", "content": "c", "parameters": {"message": "msg", "question": "q"}},
		{"id": "q", "type": "ask", "content": "c", "parameters": {"question": "q"}},
		{"id": "c", "type": "announce", "content": "c"},
		{"id": "d", "type": "announce"}
	]}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "msg", s.Nodes[0].Content)
	assert.Equal(t, "q", s.Nodes[1].Content)
	assert.Equal(t, "c", s.Nodes[2].Content)
	assert.Equal(t, DefaultContent, s.Nodes[3].Content)
}

func TestDecodeConditionsAsText(t *testing.T) {
	doc := `{"nodes": [{"id": "c", "type": "switch", "parameters": {"conditions": "x > 1\n// note\ny < 2"}}]}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)
	p, ok := s.Nodes[0].Params.(*scenario.ConditionParams)
	require.True(t, ok)
	assert.Equal(t, []string{"x > 1", "y < 2"}, p.Lines())
	assert.Equal(t, []string{"output-0", "output-1", "output-2"}, scenario.Outputs(&s.Nodes[0]))
}

func TestDecodeNLUAlias(t *testing.T) {
	doc := `{"scenario_data": {"nodes": [
		{"id": "nlu", "type": "nlu_call", "service": "intents", "conditions": {"success": "ok", "error": "fail"}},
		{"id": "ok", "type": "announce"},
		{"id": "fail", "type": "announce"}
	]}}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)

	n := s.FindNode("nlu")
	require.NotNil(t, n)
	assert.Equal(t, scenario.TypeNLURequest, n.Type)
	assert.Equal(t, &scenario.NLUParams{Service: "intents", Endpoint: scenario.DefaultNLUEndpoint}, n.Params)
	assert.ElementsMatch(t, []scenario.Edge{
		{Source: "nlu", Target: "ok", SourceHandle: scenario.HandleSuccess},
		{Source: "nlu", Target: "fail", SourceHandle: scenario.HandleError},
	}, s.Edges)

	env := Encode(s)
	var c NLUConditions
	require.NoError(t, json.Unmarshal(env.ScenarioData.Nodes[0].Conditions, &c))
	assert.Equal(t, NLUConditions{Success: "ok", Error: "fail"}, c)
	assert.Equal(t, "intents", env.ScenarioData.Nodes[0].Service)
}

func TestDecodeLegacyFlat(t *testing.T) {
	doc := `{
		"name": "legacy",
		"trigger_intents": ["greeting"],
		"nodes": [
			{"id": "start", "type": "message", "content": "Hi", "next_node": "ask"},
			{"id": "ask", "type": "input", "content": "Age?", "variable": "age", "next_node": "check"},
			{"id": "check", "type": "condition", "condition": "age >= 18", "true_node": "adult", "false_node": "child"},
			{"id": "adult", "type": "api_call", "api_url": "https://x", "api_method": "POST"},
			{"id": "child", "type": "end"}
		]
	}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"greeting"}, s.TriggerIntents)
	assert.Equal(t, scenario.TypeAnnounce, s.Nodes[0].Type)
	assert.Equal(t, scenario.TypeAsk, s.Nodes[1].Type)
	assert.Equal(t, &scenario.AskParams{Variable: "age"}, s.Nodes[1].Params)
	assert.Equal(t, &scenario.APICallParams{URL: "https://x", Method: "POST"}, s.Nodes[3].Params)

	out := s.OutgoingEdges("check")
	require.Len(t, out, 2)
	assert.Equal(t, scenario.Edge{Source: "check", Target: "adult", SourceHandle: "output-0"}, out[0])
	assert.Equal(t, scenario.Edge{Source: "check", Target: "child", SourceHandle: "output-1"}, out[1])

	// legacy exports have no start node; everything else is clean
	warnings := scenario.Validate(s)
	require.Len(t, warnings, 1)
	assert.Equal(t, scenario.WarnNoStartNode, warnings[0].Code)
}

func TestDecodeKeepsUnknownTypes(t *testing.T) {
	doc := `{"nodes": [{"id": "w", "type": "webhook", "parameters": {"hook": "x"}}], "edges": [{"source": "w", "target": "nowhere"}]}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, scenario.NodeType("webhook"), s.Nodes[0].Type)
	assert.Equal(t, "x", s.Nodes[0].Params.(*scenario.UnknownParams).Values["hook"])
	require.Len(t, s.Edges, 1)

	again, err := Decode(mustMarshal(t, s))
	require.NoError(t, err)
	assert.Equal(t, "x", again.Nodes[0].Params.(*scenario.UnknownParams).Values["hook"])
}

func TestDecodeNonStringHeaders(t *testing.T) {
	doc := `{"nodes": [
		{"id": "a", "type": "api_call", "parameters": {"url": "https://x", "headers": {"X-Retry": 3, "X-Trace": true, "Auth": "t", "X-Skip": null}}},
		{"id": "b", "type": "api_call", "parameters": {"url": "https://y", "headers": "{\"X-Id\": 7}"}}
	]}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Retry": "3", "X-Trace": "true", "Auth": "t"},
		s.Nodes[0].Params.(*scenario.APICallParams).Headers)
	assert.Equal(t, map[string]string{"X-Id": "7"}, s.Nodes[1].Params.(*scenario.APICallParams).Headers)
}

func TestMenuEdgesFromParameterOptions(t *testing.T) {
	doc := `{"nodes": [
		{"id": "m", "type": "menu", "next_nodes": ["y", "n"],
		 "parameters": {"options": [{"text": "Yes", "value": "yes"}, {"text": "No", "value": "no"}]}},
		{"id": "y", "type": "end"},
		{"id": "n", "type": "end"}
	]}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)

	out := s.OutgoingEdges("m")
	require.Len(t, out, 2)
	assert.Equal(t, scenario.Edge{Source: "m", Target: "y", SourceHandle: "yes"}, out[0])
	assert.Equal(t, scenario.Edge{Source: "m", Target: "n", SourceHandle: "no"}, out[1])
}

func TestDecodeMalformed(t *testing.T) {
	for _, doc := range []string{`{`, `[]`, `{"nodes": [{"type": "announce"}]}`} {
		_, err := Decode([]byte(doc))
		assert.ErrorIs(t, err, ErrMalformed, doc)
	}
}

func TestFlowRoundTrip(t *testing.T) {
	s := branching()
	s.Nodes[1].Position = scenario.Position{X: 10, Y: 20}

	f := ToFlow(s)
	require.Len(t, f.Nodes, 4)
	assert.Equal(t, FlowNodeType, f.Nodes[0].Type)
	assert.Equal(t, []string{"a", "b"}, f.Nodes[0].Data.Conditions)
	assert.Equal(t, []string{"output-0", "output-1", "output-2"}, f.Nodes[0].Data.Outputs)
	assert.Equal(t, "cond-Z-output-2", f.Edges[0].ID)

	back := FromFlow(f)
	assert.Equal(t, s.Adjacency(), back.Adjacency())
	assert.Equal(t, scenario.Position{X: 10, Y: 20}, back.Nodes[1].Position)
	assert.Equal(t, s.Nodes[0].Params, back.Nodes[0].Params)
}

func TestFlowKeepsRequestAndUnknownParams(t *testing.T) {
	s := scenario.New("flow")
	s.StartNode = "call"
	s.Nodes = []scenario.Node{
		{ID: "call", Type: scenario.TypeAPICall, Params: &scenario.APICallParams{
			URL:     "https://x",
			Method:  "POST",
			Body:    `{"id": 1}`,
			Headers: map[string]string{"Auth": "t"},
		}},
		{ID: "hook", Type: "webhook", Params: &scenario.UnknownParams{Values: map[string]any{"hook": "x"}}},
	}
	s.Connect("call", "hook", "")

	f := ToFlow(s)
	assert.Equal(t, `{"id": 1}`, f.Nodes[0].Data.Body)
	assert.Equal(t, map[string]string{"Auth": "t"}, f.Nodes[0].Data.Headers)

	// survive the JSON hop the editor makes
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	var decoded Flow
	require.NoError(t, json.Unmarshal(raw, &decoded))

	back := FromFlow(decoded)
	assert.Equal(t, s.Nodes[0].Params, back.Nodes[0].Params)
	assert.Equal(t, s.Nodes[1].Params, back.Nodes[1].Params)
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeting.json")
	require.NoError(t, WriteFile(path, greeting()))

	s, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "greeting", s.Name)
	assert.Len(t, s.Nodes, 3)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func mustMarshal(t *testing.T, s *scenario.Scenario) []byte {
	t.Helper()
	data, err := Marshal(s)
	require.NoError(t, err)
	return data
}
