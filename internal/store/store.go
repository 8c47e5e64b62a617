// Package store persists per-user extension state: the session list, the
// content signature, sync metadata, cloud settings and (encrypted) tokens.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Keys used by the extension.
const (
	KeySessions  = "sessions"
	KeySignature = "cloudStorageSignature"
	KeyMeta      = "cloudStorageMeta"
	KeyTokens    = "cloudStorageTokens"
	KeySettings  = "cloudStorageSettings"

	// KeyConfigVersion changes on every settings or token write so that
	// other instances notice their cached configuration is stale.
	KeyConfigVersion = "cloudStorageConfigVersion"
)

const DefaultTableName = "ExtensionStore"

// maxChunkBytes keeps every item below the 400 KB DynamoDB item limit,
// leaving room for the key attributes.
const maxChunkBytes = 350 * 1024

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("key not found")

// DynamoAPI is the subset of *dynamodb.Client methods used by Store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Item is the DynamoDB representation of one stored key. The table is
// partitioned by user_id with key as the sort key.
//
// Values larger than one item are split into part items under the key
// "<key>#<gen>#<n>". The head item then carries no value, only the
// generation and part count, and is written last.
type Item struct {
	UserID    string    `dynamodbav:"user_id"`
	Key       string    `dynamodbav:"key"`
	Value     []byte    `dynamodbav:"value,omitempty"`
	Size      int64     `dynamodbav:"size"`
	Gen       string    `dynamodbav:"gen,omitempty"`
	Parts     int       `dynamodbav:"parts,omitempty"`
	Part      bool      `dynamodbav:"part,omitempty"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// Store is a key-value store scoped to one user.
// If client is nil, values live in an in-memory map (tests, dev mode).
// If client is set, values are persisted in DynamoDB.
type Store struct {
	client    DynamoAPI
	tableName string
	userID    string

	// Fallback for tests
	values map[string][]byte
	mu     sync.RWMutex
}

// New creates a Store for the given user.
func New(client DynamoAPI, tableName, userID string) *Store {
	if tableName == "" {
		tableName = DefaultTableName
	}
	return &Store{
		client:    client,
		tableName: tableName,
		userID:    userID,
		values:    make(map[string][]byte),
	}
}

// NewMemory returns a Store that never leaves the process.
func NewMemory(userID string) *Store {
	return New(nil, "", userID)
}

// UserID returns the owner of this store.
func (s *Store) UserID() string {
	return s.userID
}

func (s *Store) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: s.userID},
		"key":     &types.AttributeValueMemberS{Value: key},
	}
}

func partPrefix(key string) string {
	return key + "#"
}

func partKey(key, gen string, n int) string {
	return fmt.Sprintf("%s%s#%04d", partPrefix(key), gen, n)
}

// GetRaw returns the stored JSON for key, or ErrNotFound.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	if s.client == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		v, ok := s.values[key]
		if !ok {
			return nil, ErrNotFound
		}
		return append([]byte(nil), v...), nil
	}

	head, err := s.head(ctx, key)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, ErrNotFound
	}
	if head.Parts == 0 {
		return head.Value, nil
	}

	parts, err := s.query(ctx, partPrefix(key)+head.Gen+"#")
	if err != nil {
		return nil, err
	}
	if len(parts) != head.Parts {
		return nil, fmt.Errorf("%s is incomplete: found %d of %d parts", key, len(parts), head.Parts)
	}
	value := make([]byte, 0, head.Size)
	for _, p := range parts {
		value = append(value, p.Value...)
	}
	if int64(len(value)) != head.Size {
		return nil, fmt.Errorf("%s is incomplete: read %d of %d bytes", key, len(value), head.Size)
	}
	return value, nil
}

// head returns the item stored directly under key, or nil.
func (s *Store) head(ctx context.Context, key string) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from DynamoDB: %w", key, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return &item, nil
}

// query returns this user's items whose key starts with prefix, in key
// order. An empty prefix matches the whole partition.
func (s *Store) query(ctx context.Context, prefix string) ([]Item, error) {
	cond := "user_id = :uid"
	values := map[string]types.AttributeValue{
		":uid": &types.AttributeValueMemberS{Value: s.userID},
	}
	var names map[string]string
	if prefix != "" {
		cond += " AND begins_with(#k, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
		names = map[string]string{"#k": "key"}
	}

	var (
		items []Item
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    aws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ConsistentRead:            aws.Bool(true),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query store: %w", err)
		}
		var page []Item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal store items: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *Store) putItem(ctx context.Context, item Item) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", item.Key, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save %s to DynamoDB: %w", item.Key, err)
	}
	return nil
}

// PutRaw overwrites key with the given JSON.
func (s *Store) PutRaw(ctx context.Context, key string, value []byte) error {
	if s.client == nil {
		s.mu.Lock()
		s.values[key] = append([]byte(nil), value...)
		s.mu.Unlock()
		return nil
	}

	prev, err := s.head(ctx, key)
	if err != nil {
		return err
	}

	now := time.Now()
	head := Item{
		UserID:    s.userID,
		Key:       key,
		Size:      int64(len(value)),
		UpdatedAt: now,
	}
	if len(value) <= maxChunkBytes {
		head.Value = value
	} else {
		head.Gen = uuid.NewString()
		for off := 0; off < len(value); off += maxChunkBytes {
			end := min(off+maxChunkBytes, len(value))
			part := Item{
				UserID:    s.userID,
				Key:       partKey(key, head.Gen, head.Parts),
				Value:     value[off:end],
				Size:      int64(end - off),
				Gen:       head.Gen,
				Part:      true,
				UpdatedAt: now,
			}
			if err := s.putItem(ctx, part); err != nil {
				return err
			}
			head.Parts++
		}
	}

	if err := s.putItem(ctx, head); err != nil {
		return err
	}
	if head.Parts > 0 || (prev != nil && prev.Parts > 0) {
		// Leftovers only cost table space and are retried on the next chunked write.
		_ = s.pruneParts(ctx, key, head.Gen)
	}
	return nil
}

// pruneParts deletes every part of key that does not belong to keep.
func (s *Store) pruneParts(ctx context.Context, key, keep string) error {
	parts, err := s.query(ctx, partPrefix(key))
	if err != nil {
		return err
	}
	for _, p := range parts {
		if keep != "" && p.Gen == keep {
			continue
		}
		if err := s.deleteItem(ctx, p.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteItem(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		s.mu.Lock()
		delete(s.values, key)
		s.mu.Unlock()
		return nil
	}

	head, err := s.head(ctx, key)
	if err != nil {
		return err
	}
	if err := s.deleteItem(ctx, key); err != nil {
		return err
	}
	if head != nil && head.Parts > 0 {
		return s.pruneParts(ctx, key, "")
	}
	return nil
}

// Get decodes the value stored under key into out.
// It reports false without error when the key is absent.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.GetRaw(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Put encodes v as JSON and stores it under key.
func (s *Store) Put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.PutRaw(ctx, key, raw)
}

// BytesInUse sums the size of every value owned by this user. It reads
// only the user's partition.
func (s *Store) BytesInUse(ctx context.Context) (int64, error) {
	if s.client == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var total int64
		for k, v := range s.values {
			total += int64(len(k) + len(v))
		}
		return total, nil
	}

	items, err := s.query(ctx, "")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, item := range items {
		// Parts are already counted in their head's size.
		if item.Part {
			continue
		}
		total += int64(len(item.Key)) + item.Size
	}
	return total, nil
}
