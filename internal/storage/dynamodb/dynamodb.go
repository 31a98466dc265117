// Package dynamodb stores branches and branch history in a single DynamoDB
// table.
//
// Layout:
//
//	PK = WORKSPACE#<ws>          SK = BRANCH#<name>             branch record
//	PK = WORKSPACE#<ws>#HISTORY  SK = ENTRY#<unix nanos>#<uuid> history entry
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/branch"
)

// API is the subset of the DynamoDB client the backend uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Options configures Open.
type Options struct {
	Table     string
	Region    string
	Endpoint  string
	Workspace string
}

// Backend implements branch.Backend on DynamoDB.
type Backend struct {
	client    API
	table     string
	workspace string
	logger    *zap.Logger
}

// Open loads the default AWS configuration and returns a backend for table.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Backend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return New(client, opts.Table, opts.Workspace, logger), nil
}

func New(client API, table, workspace string, logger *zap.Logger) *Backend {
	if workspace == "" {
		workspace = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{client: client, table: table, workspace: workspace, logger: logger}
}

type branchItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	Name          string `dynamodbav:"Name"`
	ScenarioData  string `dynamodbav:"ScenarioData"`
	BaseData      string `dynamodbav:"BaseData,omitempty"`
	BaseCommit    string `dynamodbav:"BaseCommit"`
	LastModified  string `dynamodbav:"LastModified"`
	Author        string `dynamodbav:"Author"`
	IsDeleted     bool   `dynamodbav:"IsDeleted"`
	CommitMessage string `dynamodbav:"CommitMessage"`
	Revision      int64  `dynamodbav:"Revision"`
}

type historyItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Action    string `dynamodbav:"Action"`
	Branch    string `dynamodbav:"Branch"`
	Author    string `dynamodbav:"Author"`
	Message   string `dynamodbav:"Message"`
	Timestamp string `dynamodbav:"Timestamp"`
}

const branchPrefix = "BRANCH#"

func (b *Backend) branchPK() string  { return "WORKSPACE#" + b.workspace }
func (b *Backend) historyPK() string { return "WORKSPACE#" + b.workspace + "#HISTORY" }

func (b *Backend) Load(ctx context.Context, name string) (*branch.Branch, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: b.branchPK()},
			"SK": &types.AttributeValueMemberS{Value: branchPrefix + name},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get branch %s: %w", name, err)
	}
	if out.Item == nil {
		return nil, branch.ErrBranchNotFound
	}

	var item branchItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal branch item: %w", err)
	}
	return item.toBranch()
}

func (i *branchItem) toBranch() (*branch.Branch, error) {
	b := &branch.Branch{
		Name:          i.Name,
		BaseCommit:    i.BaseCommit,
		Author:        i.Author,
		IsDeleted:     i.IsDeleted,
		CommitMessage: i.CommitMessage,
		Revision:      i.Revision,
		ScenarioData:  branch.Snapshot{},
	}
	if i.ScenarioData != "" {
		if err := json.Unmarshal([]byte(i.ScenarioData), &b.ScenarioData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scenario data: %w", err)
		}
	}
	if i.BaseData != "" {
		if err := json.Unmarshal([]byte(i.BaseData), &b.Base); err != nil {
			return nil, fmt.Errorf("failed to unmarshal base data: %w", err)
		}
	}
	if i.LastModified != "" {
		ts, err := time.Parse(time.RFC3339Nano, i.LastModified)
		if err != nil {
			return nil, fmt.Errorf("invalid last modified time: %w", err)
		}
		b.LastModified = ts
	}
	return b, nil
}

func (b *Backend) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := b.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(b.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: b.branchPK()},
			":prefix": &types.AttributeValueMemberS{Value: branchPrefix},
		},
	}, func(item map[string]types.AttributeValue) error {
		var bi branchItem
		if err := attributevalue.UnmarshalMap(item, &bi); err != nil {
			return err
		}
		if !bi.IsDeleted {
			names = append(names, bi.Name)
		}
		return nil
	})
	return names, err
}

// Commit writes every change and the history entry in one transaction. Each
// branch put is conditioned on the revision the caller read.
func (b *Backend) Commit(ctx context.Context, changes []branch.Change, entry branch.HistoryEntry) error {
	items := make([]types.TransactWriteItem, 0, len(changes)+1)
	for _, ch := range changes {
		put, err := b.branchPut(ch)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}

	hist, err := attributevalue.MarshalMap(historyItem{
		PK:        b.historyPK(),
		SK:        fmt.Sprintf("ENTRY#%020d#%s", entry.Timestamp.UnixNano(), uuid.NewString()),
		Action:    entry.Action,
		Branch:    entry.Branch,
		Author:    entry.Author,
		Message:   entry.Message,
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal history item: %w", err)
	}
	items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(b.table), Item: hist}})

	_, err = b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailed(tce) {
			b.logger.Debug("branch commit rejected", zap.String("action", entry.Action), zap.String("branch", entry.Branch))
			return branch.ErrStaleRevision
		}
		return fmt.Errorf("transaction to commit %s failed: %w", entry.Action, err)
	}
	return nil
}

func (b *Backend) branchPut(ch branch.Change) (*types.Put, error) {
	data, err := json.Marshal(nonNil(ch.Branch.ScenarioData))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenario data: %w", err)
	}
	item := branchItem{
		PK:            b.branchPK(),
		SK:            branchPrefix + ch.Branch.Name,
		Name:          ch.Branch.Name,
		ScenarioData:  string(data),
		BaseCommit:    ch.Branch.BaseCommit,
		LastModified:  ch.Branch.LastModified.UTC().Format(time.RFC3339Nano),
		Author:        ch.Branch.Author,
		IsDeleted:     ch.Branch.IsDeleted,
		CommitMessage: ch.Branch.CommitMessage,
		Revision:      ch.Expect + 1,
	}
	if ch.Branch.Base != nil {
		base, err := json.Marshal(ch.Branch.Base)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal base data: %w", err)
		}
		item.BaseData = string(base)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal branch item: %w", err)
	}

	put := &types.Put{TableName: aws.String(b.table), Item: av}
	if ch.Expect == 0 {
		put.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		put.ConditionExpression = aws.String("Revision = :rev")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ch.Expect)},
		}
	}
	return put, nil
}

func conditionFailed(tce *types.TransactionCanceledException) bool {
	for _, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return strings.Contains(tce.ErrorMessage(), "ConditionalCheckFailed")
}

func (b *Backend) History(ctx context.Context) ([]branch.HistoryEntry, error) {
	var out []branch.HistoryEntry
	err := b.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(b.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: b.historyPK()},
		},
		ScanIndexForward: aws.Bool(true),
	}, func(item map[string]types.AttributeValue) error {
		var h historyItem
		if err := attributevalue.UnmarshalMap(item, &h); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, h.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid history timestamp: %w", err)
		}
		out = append(out, branch.HistoryEntry{Action: h.Action, Branch: h.Branch, Author: h.Author, Message: h.Message, Timestamp: ts})
		return nil
	})
	return out, err
}

func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table)})
	return err
}

// query pages through every result of in.
func (b *Backend) query(ctx context.Context, in *dynamodb.QueryInput, fn func(map[string]types.AttributeValue) error) error {
	var lastEvaluatedKey map[string]types.AttributeValue
	for {
		in.ExclusiveStartKey = lastEvaluatedKey
		result, err := b.client.Query(ctx, in)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		for _, item := range result.Items {
			if err := fn(item); err != nil {
				return fmt.Errorf("failed to decode item: %w", err)
			}
		}
		if len(result.LastEvaluatedKey) == 0 {
			return nil
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}
}

func nonNil(s branch.Snapshot) branch.Snapshot {
	if s == nil {
		return branch.Snapshot{}
	}
	return s
}

var _ branch.Backend = (*Backend)(nil)
