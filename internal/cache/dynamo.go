package cache

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoVersions.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoVersions keeps version counters in a DynamoDB table keyed by
// content_type, so every instance behind a load balancer sees the same
// version. Bumps use an atomic ADD update.
type DynamoVersions struct {
	client DynamoAPI
	table  string
}

type versionKey struct {
	ContentType string `dynamodbav:"content_type"`
}

type versionItem struct {
	ContentType string `dynamodbav:"content_type"`
	Version     int64  `dynamodbav:"version"`
}

func NewDynamoVersions(client DynamoAPI, table string) *DynamoVersions {
	return &DynamoVersions{client: client, table: table}
}

func (d *DynamoVersions) key(contentType string) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(versionKey{ContentType: contentType})
}

func (d *DynamoVersions) Version(ctx context.Context, contentType string) (int64, error) {
	key, err := d.key(contentType)
	if err != nil {
		return 0, fmt.Errorf("marshal version key: %w", err)
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get version %s: %w", contentType, err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}

	var item versionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return 0, fmt.Errorf("unmarshal version %s: %w", contentType, err)
	}
	return item.Version, nil
}

func (d *DynamoVersions) Bump(ctx context.Context, contentType string) (int64, error) {
	key, err := d.key(contentType)
	if err != nil {
		return 0, fmt.Errorf("marshal version key: %w", err)
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(d.table),
		Key:                      key,
		UpdateExpression:         aws.String("ADD #v :one"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("bump version %s: %w", contentType, err)
	}

	var item versionItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return 0, fmt.Errorf("unmarshal bumped version %s: %w", contentType, err)
	}
	return item.Version, nil
}
