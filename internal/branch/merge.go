package branch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// mergeSnapshots performs a three-way merge of source into target. A scenario
// changed on only one side takes that side's version; a scenario changed on
// both sides to different contents is a conflict.
func mergeSnapshots(base, source, target Snapshot) (Snapshot, []string) {
	merged := target.Clone()
	var conflicts []string

	for _, id := range scenarioIDs(base, source, target) {
		b, s, t := base[id], source[id], target[id]
		switch {
		case sameJSON(s, b):
			// untouched on source
		case sameJSON(t, b):
			if s == nil {
				delete(merged, id)
			} else {
				merged[id] = append(json.RawMessage(nil), s...)
			}
		case sameJSON(s, t):
			// both sides made the same change
		default:
			conflicts = append(conflicts, describeConflict(id, b, s, t)...)
		}
	}
	return merged, conflicts
}

func scenarioIDs(snaps ...Snapshot) []string {
	seen := make(map[string]struct{})
	for _, snap := range snaps {
		for id := range snap {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sameJSON compares two documents ignoring formatting and key order.
// A nil document only equals another nil document.
func sameJSON(a, b json.RawMessage) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return bytes.Equal(ca, cb)
}

// graphDoc is the part of a stored envelope needed to name conflicts.
type graphDoc struct {
	ScenarioData *struct {
		Nodes []json.RawMessage `json:"nodes"`
		Edges []graphEdge       `json:"edges"`
	} `json:"scenario_data"`
	Nodes []json.RawMessage `json:"nodes"`
	Edges []graphEdge       `json:"edges"`
}

type graphEdge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle *string `json:"sourceHandle"`
}

type graphItems map[string]json.RawMessage

func parseGraph(data json.RawMessage) (graphItems, bool) {
	var doc graphDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	nodes, edges := doc.Nodes, doc.Edges
	if doc.ScenarioData != nil {
		nodes, edges = doc.ScenarioData.Nodes, doc.ScenarioData.Edges
	}

	items := make(graphItems, len(nodes)+len(edges))
	for _, raw := range nodes {
		var n struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, false
		}
		items["node:"+n.ID] = raw
	}
	for _, e := range edges {
		key := fmt.Sprintf("edge:%s->%s", e.Source, e.Target)
		if e.SourceHandle != nil && *e.SourceHandle != "" {
			// parallel edges leave the same node through different outputs
			key = fmt.Sprintf("edge:%s[%s]->%s", e.Source, *e.SourceHandle, e.Target)
		}
		raw, _ := json.Marshal(e)
		items[key] = raw
	}
	return items, true
}

// describeConflict names the nodes and edges both sides changed differently.
// When no finer identifier can be found, or a side deleted the scenario,
// the scenario id itself is reported.
func describeConflict(id string, base, source, target json.RawMessage) []string {
	if source == nil || target == nil {
		return []string{id}
	}
	s, okS := parseGraph(source)
	t, okT := parseGraph(target)
	if !okS || !okT {
		return []string{id}
	}
	b := graphItems{}
	if base != nil {
		if parsed, ok := parseGraph(base); ok {
			b = parsed
		}
	}

	keys := make(map[string]struct{})
	for _, m := range []graphItems{b, s, t} {
		for k := range m {
			keys[k] = struct{}{}
		}
	}

	var out []string
	for k := range keys {
		bi, si, ti := b[k], s[k], t[k]
		if sameJSON(si, bi) || sameJSON(ti, bi) || sameJSON(si, ti) {
			continue
		}
		out = append(out, id+"/"+k)
	}
	if len(out) == 0 {
		return []string{id}
	}
	sort.Strings(out)
	return out
}
