package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo implements the ADD update for a single numeric attribute.
type fakeDynamo struct {
	mu      sync.Mutex
	counts  map[string]int64
	failGet bool
}

func keyOf(key map[string]types.AttributeValue) string {
	if s, ok := key["content_type"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("throttled")
	}
	k := keyOf(in.Key)
	n, ok := f.counts[k]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"content_type": &types.AttributeValueMemberS{Value: k},
		"version":      &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)},
	}}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	k := keyOf(in.Key)
	f.counts[k]++
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"version": &types.AttributeValueMemberN{Value: strconv.FormatInt(f.counts[k], 10)},
	}}, nil
}

func TestDynamoVersions(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{}
	v := NewDynamoVersions(fake, "evcal-versions")

	n, err := v.Version(ctx, ContentTypeEvent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = v.Bump(ctx, ContentTypeEvent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, _ = v.Bump(ctx, ContentTypeEvent)

	n, err = v.Version(ctx, ContentTypeEvent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDynamoVersionsWrapsErrors(t *testing.T) {
	v := NewDynamoVersions(&fakeDynamo{failGet: true}, "t")
	_, err := v.Version(context.Background(), ContentTypeEvent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get version event")
}
