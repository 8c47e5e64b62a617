package lease

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo records requests and fails writes with a condition error when
// conflict is set.
type fakeDynamo struct {
	conflict bool
	err      error
	item     map[string]types.AttributeValue

	put *dynamodb.PutItemInput
	del *dynamodb.DeleteItemInput
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put = in
	if f.conflict {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.item = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.del = in
	if f.conflict {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	f.item = nil
	return &dynamodb.DeleteItemOutput{}, nil
}

func strPtr(s string) *string { return &s }

func newTestDynamoLocker(f *fakeDynamo) *DynamoLocker {
	m := NewDynamoLocker(f, "")
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return m
}

func TestDynamoLocker_Acquire(t *testing.T) {
	f := &fakeDynamo{}
	m := newTestDynamoLocker(f)

	l, err := m.Acquire(context.Background(), "sync#user1", "instance-a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.ExpiresAt != 1_700_000_000+int64(DefaultTTL.Seconds()) {
		t.Errorf("ExpiresAt = %d", l.ExpiresAt)
	}
	if *f.put.TableName != DefaultTableName {
		t.Errorf("TableName = %s", *f.put.TableName)
	}
	if !strings.Contains(*f.put.ConditionExpression, "attribute_not_exists(lease_key)") {
		t.Errorf("Unexpected condition %q", *f.put.ConditionExpression)
	}

	var stored Lease
	if err := attributevalue.UnmarshalMap(f.put.Item, &stored); err != nil {
		t.Fatal(err)
	}
	if stored != *l {
		t.Errorf("Stored lease %+v, want %+v", stored, *l)
	}
}

func TestDynamoLocker_AcquireHeld(t *testing.T) {
	m := newTestDynamoLocker(&fakeDynamo{conflict: true})
	if _, err := m.Acquire(context.Background(), "k", "instance-b"); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected ErrHeld, got %v", err)
	}
}

func TestDynamoLocker_AcquireError(t *testing.T) {
	m := newTestDynamoLocker(&fakeDynamo{err: errors.New("throttled")})
	_, err := m.Acquire(context.Background(), "k", "instance-a")
	if err == nil || errors.Is(err, ErrHeld) || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("Expected wrapped backend error, got %v", err)
	}
}

func TestDynamoLocker_ReleaseAndStatus(t *testing.T) {
	f := &fakeDynamo{}
	m := newTestDynamoLocker(f)
	ctx := context.Background()

	m.Acquire(ctx, "k", "instance-a")
	status, err := m.Status(ctx, "k")
	if err != nil || status == nil || status.Owner != "instance-a" {
		t.Fatalf("Expected active lease, got %+v (%v)", status, err)
	}

	if err := m.Release(ctx, "k", "instance-a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	owner := f.del.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value
	if owner != "instance-a" {
		t.Errorf("Release conditioned on owner %q", owner)
	}
	if status, _ := m.Status(ctx, "k"); status != nil {
		t.Errorf("Expected no lease after release, got %+v", status)
	}
}

func TestDynamoLocker_StatusExpired(t *testing.T) {
	item, _ := attributevalue.MarshalMap(Lease{Key: "k", Owner: "instance-a", ExpiresAt: 1_600_000_000})
	m := newTestDynamoLocker(&fakeDynamo{item: item})
	if status, err := m.Status(context.Background(), "k"); err != nil || status != nil {
		t.Errorf("Expected expired lease to be nil, got %+v (%v)", status, err)
	}
}

func TestDynamoLocker_ReleaseNotOwner(t *testing.T) {
	m := newTestDynamoLocker(&fakeDynamo{conflict: true})
	if err := m.Release(context.Background(), "k", "instance-b"); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected ErrHeld, got %v", err)
	}
}
