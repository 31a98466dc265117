package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/AaronLay10/DialogStudio/internal/branch"
)

// envelope is the {"data": ...} wrapper the branch routes respond with.
type envelope[T any] struct {
	Data T `json:"data"`
}

type branchList struct {
	Branches []string `json:"branches"`
}

type historyList struct {
	History []branch.HistoryEntry `json:"history"`
}

// BranchClient drives the branch routes.
type BranchClient struct {
	c *Client
}

func NewBranchClient(c *Client) *BranchClient {
	return &BranchClient{c: c}
}

func branchPath(name string) string {
	return "/branches/" + url.PathEscape(name)
}

func (b *BranchClient) List(ctx context.Context) ([]string, error) {
	var out envelope[branchList]
	if err := b.c.do(ctx, request{method: http.MethodGet, path: "/branches"}, &out); err != nil {
		return nil, err
	}
	return out.Data.Branches, nil
}

// Create forks from (main when empty) into name.
func (b *BranchClient) Create(ctx context.Context, name, from, author string) (*branch.Branch, error) {
	var out envelope[*branch.Branch]
	err := b.c.do(ctx, request{
		method: http.MethodPost,
		path:   branchPath(name),
		query:  map[string]string{"from": from, "author": author},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Get returns nil without error when the branch does not exist.
func (b *BranchClient) Get(ctx context.Context, name string) (*branch.Branch, error) {
	var out envelope[*branch.Branch]
	err := b.c.do(ctx, request{method: http.MethodGet, path: branchPath(name)}, &out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Merge folds source into target (main when empty). A conflicting merge is
// returned as an unsuccessful result, not an error.
func (b *BranchClient) Merge(ctx context.Context, source, target, author string) (*branch.MergeResult, error) {
	var out envelope[*branch.MergeResult]
	err := b.c.do(ctx, request{
		method: http.MethodPost,
		path:   branchPath(source) + "/merge",
		query:  map[string]string{"target": target, "author": author},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (b *BranchClient) Delete(ctx context.Context, name, author string) error {
	return b.c.do(ctx, request{
		method: http.MethodDelete,
		path:   branchPath(name),
		query:  map[string]string{"author": author},
	}, nil)
}

func (b *BranchClient) History(ctx context.Context) ([]branch.HistoryEntry, error) {
	var out envelope[historyList]
	if err := b.c.do(ctx, request{method: http.MethodGet, path: "/branches/history"}, &out); err != nil {
		return nil, err
	}
	return out.Data.History, nil
}
