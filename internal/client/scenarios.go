package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/AaronLay10/DialogStudio/internal/branch"
	"github.com/AaronLay10/DialogStudio/internal/codec"
)

// BranchHeader selects the branch a scenario request operates on.
const BranchHeader = "X-Branch"

// ScenarioList is the body of GET /scenarios.
type ScenarioList struct {
	Scenarios []codec.Envelope `json:"scenarios"`
	Count     int              `json:"count"`
	Branch    string           `json:"branch"`
}

// ScenarioClient performs scenario CRUD on a branch. An empty branch means
// main.
type ScenarioClient struct {
	c *Client
}

func NewScenarioClient(c *Client) *ScenarioClient {
	return &ScenarioClient{c: c}
}

func branchHeader(name string) map[string]string {
	if name == "" {
		name = branch.MainBranch
	}
	return map[string]string{BranchHeader: name}
}

// authorQuery names the history author. Empty leaves the service default.
func authorQuery(author string) map[string]string {
	return map[string]string{"author": author}
}

func scenarioPath(id string) string {
	return "/scenarios/" + url.PathEscape(id)
}

func (s *ScenarioClient) ListScenarios(ctx context.Context, branchName string) ([]codec.Envelope, error) {
	var out ScenarioList
	err := s.c.do(ctx, request{method: http.MethodGet, path: "/scenarios", header: branchHeader(branchName)}, &out)
	if err != nil {
		return nil, err
	}
	return out.Scenarios, nil
}

func (s *ScenarioClient) GetScenario(ctx context.Context, branchName, id string) (*codec.Envelope, error) {
	var env codec.Envelope
	err := s.c.do(ctx, request{method: http.MethodGet, path: scenarioPath(id), header: branchHeader(branchName)}, &env)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// CreateScenario stores a new scenario and returns the id the service
// assigned.
func (s *ScenarioClient) CreateScenario(ctx context.Context, branchName, author string, env *codec.Envelope) (string, error) {
	var created codec.Envelope
	err := s.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/scenarios",
		header: branchHeader(branchName),
		query:  authorQuery(author),
		body:   env,
	}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s *ScenarioClient) UpdateScenario(ctx context.Context, branchName, id, author string, env *codec.Envelope) error {
	return s.c.do(ctx, request{
		method: http.MethodPut,
		path:   scenarioPath(id),
		header: branchHeader(branchName),
		query:  authorQuery(author),
		body:   env,
	}, nil)
}

func (s *ScenarioClient) DeleteScenario(ctx context.Context, branchName, id, author string) error {
	return s.c.do(ctx, request{
		method: http.MethodDelete,
		path:   scenarioPath(id),
		header: branchHeader(branchName),
		query:  authorQuery(author),
	}, nil)
}
