// Package dynamo stores match documents in a DynamoDB table keyed by match_id.
// Writes are conditional on the version attribute.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ludo/internal/game"
)

// API is the subset of the DynamoDB client the store calls.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// item is the table row. The match itself travels as a JSON document so the
// table schema does not follow every field change.
type item struct {
	MatchID  string `dynamodbav:"match_id"`
	Status   string `dynamodbav:"status"`
	Settled  bool   `dynamodbav:"settled"`
	Version  int64  `dynamodbav:"version"`
	Document string `dynamodbav:"document"`
}

// Store is a DynamoDB-backed match store.
type Store struct {
	client API
	table  string
}

// New wraps an existing client.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// NewFromRegion loads the default AWS config for region and builds a client.
func NewFromRegion(ctx context.Context, region, table string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), table), nil
}

func (s *Store) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"match_id": &types.AttributeValueMemberS{Value: id},
	}
}

func encode(m *game.Match, version int64) (map[string]types.AttributeValue, error) {
	doc := m.Clone()
	doc.Version = version
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal match: %w", err)
	}
	av, err := attributevalue.MarshalMap(item{
		MatchID:  m.ID,
		Status:   string(m.Status),
		Settled:  m.Settled,
		Version:  version,
		Document: string(data),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return av, nil
}

func decode(av map[string]types.AttributeValue) (*game.Match, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	var m game.Match
	if err := json.Unmarshal([]byte(it.Document), &m); err != nil {
		return nil, fmt.Errorf("unmarshal match %s: %w", it.MatchID, err)
	}
	m.Version = it.Version
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("match %s: %w", it.MatchID, err)
	}
	return &m, nil
}

// CreateMatch puts a new item at version 1, failing if the id is taken.
func (s *Store) CreateMatch(ctx context.Context, m *game.Match) error {
	av, err := encode(m, 1)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(match_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: match %s already exists", game.ErrInvalidMatch, m.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to put item in table '%s': %w", s.table, err)
	}
	m.Version = 1
	return nil
}

// GetMatch does a strongly consistent read of one match.
func (s *Store) GetMatch(ctx context.Context, id string) (*game.Match, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from table '%s': %w", s.table, err)
	}
	if out.Item == nil {
		return nil, game.ErrMatchNotFound
	}
	return decode(out.Item)
}

// UpdateMatch replaces the item if its stored version equals m.Version.
func (s *Store) UpdateMatch(ctx context.Context, m *game.Match) error {
	next := m.Version + 1
	av, err := encode(m, next)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(s.table),
		Item:                                av,
		ConditionExpression:                 aws.String("attribute_exists(match_id) AND #v = :expected"),
		ExpressionAttributeNames:            map[string]string{"#v": "version"},
		ExpressionAttributeValues:           map[string]types.AttributeValue{":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(m.Version, 10)}},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if ccf.Item == nil {
			return game.ErrMatchNotFound
		}
		return game.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("failed to put item in table '%s': %w", s.table, err)
	}
	m.Version = next
	return nil
}

// ListMatches scans the table, optionally filtering by status.
func (s *Store) ListMatches(ctx context.Context, status game.Status) ([]*game.Match, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	}
	if status != "" {
		input.FilterExpression = aws.String("#s = :status")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		}
	}
	var out []*game.Match
	p := dynamodb.NewScanPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table '%s': %w", s.table, err)
		}
		for _, av := range page.Items {
			m, err := decode(av)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	return out, nil
}
