// Package dynamo keeps prompts, partials and schemas in a single DynamoDB
// table keyed by PK (item kind) and SK (name and variant).
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kayz/dotprompt/internal/store"
)

const (
	pkPrompt  = "PROMPT#"
	pkPartial = "PARTIAL#"
	pkSchema  = "SCHEMA#"
)

// dynamodbAPI is the subset of *dynamodb.Client the store uses.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store wraps a DynamoDB table.
type Store struct {
	api       dynamodbAPI
	tableName string
}

// New creates a Store over tableName.
func New(api dynamodbAPI, tableName string) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName}, nil
}

func sortKey(name, variant string) string {
	return name + "#" + variant
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *Store) List(ctx context.Context) ([]store.PromptRef, error) {
	return s.list(ctx, pkPrompt)
}

func (s *Store) ListPartials(ctx context.Context) ([]store.PromptRef, error) {
	return s.list(ctx, pkPartial)
}

func (s *Store) list(ctx context.Context, pk string) ([]store.PromptRef, error) {
	items, err := s.query(ctx, pk)
	if err != nil {
		return nil, err
	}
	refs := make([]store.PromptRef, 0, len(items))
	for _, item := range items {
		p, err := itemToPrompt(item)
		if err != nil {
			return nil, fmt.Errorf("dynamo: list: %w", err)
		}
		refs = append(refs, p.PromptRef)
	}
	return refs, nil
}

// query reads every item of a partition, following pagination.
func (s *Store) query(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: query %s: %w", pk, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *Store) Load(ctx context.Context, name string, opts store.LoadOptions) (store.PromptData, error) {
	return s.load(ctx, pkPrompt, name, opts)
}

func (s *Store) LoadPartial(ctx context.Context, name string, opts store.LoadOptions) (store.PromptData, error) {
	return s.load(ctx, pkPartial, name, opts)
}

func (s *Store) load(ctx context.Context, pk, name string, opts store.LoadOptions) (store.PromptData, error) {
	item, err := s.get(ctx, pk, sortKey(name, opts.Variant))
	if err != nil {
		return store.PromptData{}, err
	}
	if item == nil {
		return store.PromptData{}, fmt.Errorf("dynamo: %q: %w", name, store.ErrNotFound)
	}
	p, err := itemToPrompt(item)
	if err != nil {
		return store.PromptData{}, fmt.Errorf("dynamo: load %q: %w", name, err)
	}
	if err := store.CheckVersion(name, opts, p.Version); err != nil {
		return store.PromptData{}, err
	}
	return p, nil
}

func (s *Store) get(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(pk, sk),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get %s%s: %w", pk, sk, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (s *Store) Save(ctx context.Context, p store.PromptData) error {
	return s.save(ctx, pkPrompt, p)
}

func (s *Store) SavePartial(ctx context.Context, p store.PromptData) error {
	return s.save(ctx, pkPartial, p)
}

func (s *Store) save(ctx context.Context, pk string, p store.PromptData) error {
	if p.Name == "" {
		return errors.New("dynamo: prompt name is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pk},
			"SK":        &types.AttributeValueMemberS{Value: sortKey(p.Name, p.Variant)},
			"name":      &types.AttributeValueMemberS{Value: p.Name},
			"variant":   &types.AttributeValueMemberS{Value: p.Variant},
			"source":    &types.AttributeValueMemberS{Value: p.Source},
			"version":   &types.AttributeValueMemberS{Value: store.Version(p.Source)},
			"updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: save %q: %w", p.Name, err)
	}
	return nil
}

// Delete removes a prompt, or a partial of the same name when no prompt exists.
func (s *Store) Delete(ctx context.Context, name, variant string) error {
	for _, pk := range []string{pkPrompt, pkPartial} {
		out, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String(s.tableName),
			Key:          key(pk, sortKey(name, variant)),
			ReturnValues: types.ReturnValueAllOld,
		})
		if err != nil {
			return fmt.Errorf("dynamo: delete %q: %w", name, err)
		}
		if out != nil && len(out.Attributes) > 0 {
			return nil
		}
	}
	return fmt.Errorf("dynamo: %q: %w", name, store.ErrNotFound)
}

func (s *Store) ListSchemas(ctx context.Context) ([]string, error) {
	items, err := s.query(ctx, pkSchema)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		name, err := strAttr(item, "name")
		if err != nil {
			return nil, fmt.Errorf("dynamo: list schemas: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) LoadSchema(ctx context.Context, name string) (string, error) {
	item, err := s.get(ctx, pkSchema, name)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", fmt.Errorf("dynamo: schema %q: %w", name, store.ErrNotFound)
	}
	return strAttr(item, "source")
}

func (s *Store) SaveSchema(ctx context.Context, name, source string) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pkSchema},
			"SK":        &types.AttributeValueMemberS{Value: name},
			"name":      &types.AttributeValueMemberS{Value: name},
			"source":    &types.AttributeValueMemberS{Value: source},
			"updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: save schema %q: %w", name, err)
	}
	return nil
}

func itemToPrompt(item map[string]types.AttributeValue) (store.PromptData, error) {
	name, err := strAttr(item, "name")
	if err != nil {
		return store.PromptData{}, err
	}
	source, err := strAttr(item, "source")
	if err != nil {
		return store.PromptData{}, err
	}
	variant, _ := strAttr(item, "variant") // allow empty
	version, _ := strAttr(item, "version")
	if version == "" {
		version = store.Version(source)
	}
	return store.PromptData{
		PromptRef: store.PromptRef{Name: name, Variant: variant, Version: version},
		Source:    source,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}
