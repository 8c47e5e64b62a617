package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const DefaultTableName = "SyncLeases"

// DynamoAPI is the subset of the DynamoDB client used here.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLocker keeps leases in a DynamoDB table keyed by lease_key, relying
// on conditional writes for mutual exclusion and TTL for cleanup.
type DynamoLocker struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoLocker creates a new DynamoLocker.
func NewDynamoLocker(client DynamoAPI, tableName string) *DynamoLocker {
	if tableName == "" {
		tableName = DefaultTableName
	}
	return &DynamoLocker{
		client:    client,
		tableName: tableName,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

func (m *DynamoLocker) Acquire(ctx context.Context, key, owner string) (*Lease, error) {
	now := m.now().Unix()
	l := Lease{
		Key:       key,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttl.Seconds()),
	}

	item, err := attributevalue.MarshalMap(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(lease_key) OR expires_at < :now OR #owner = :owner",
		),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return &l, nil
}

func (m *DynamoLocker) Release(ctx context.Context, key, owner string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrHeld
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (m *DynamoLocker) Status(ctx context.Context, key string) (*Lease, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var l Lease
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	// TTL deletion is lazy, so expired items can still be returned.
	if l.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	return &l, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
