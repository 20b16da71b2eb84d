package kv

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/caffeineduck/capsule/resource"
)

// Items in a dynamodb store are {key: S, value: B} in a table named after
// the store.
const (
	dynamoKeyAttr   = "key"
	dynamoValueAttr = "value"
)

type dynamoStore struct {
	client *dynamodb.Client
	table  string
}

func openDynamoDB(ctx context.Context, state resource.BasicState, name string) (Backend, error) {
	region, err := state.Secret(ctx, "AWS_REGION")
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	id := state.SecretOr(ctx, "AWS_ACCESS_KEY_ID", "")
	secret := state.SecretOr(ctx, "AWS_SECRET_ACCESS_KEY", "")
	if id != "" && secret != "" {
		token := state.SecretOr(ctx, "AWS_SESSION_TOKEN", "")
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, token)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &dynamoStore{client: dynamodb.NewFromConfig(cfg), table: name}, nil
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *dynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	v, ok := out.Item[dynamoValueAttr].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("item %s has no binary value", key)
	}
	return v.Value, nil
}

func (s *dynamoStore) Set(ctx context.Context, key string, value []byte) error {
	item := keyOf(key)
	item[dynamoValueAttr] = &types.AttributeValueMemberB{Value: value}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put item %s: %w", key, err)
	}
	return nil
}

func (s *dynamoStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(key),
	}); err != nil {
		return fmt.Errorf("delete item %s: %w", key, err)
	}
	return nil
}

func (s *dynamoStore) Keys(ctx context.Context) ([]string, error) {
	// "key" is a reserved word in DynamoDB expressions.
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": dynamoKeyAttr},
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		for _, item := range page.Items {
			if k, ok := item[dynamoKeyAttr].(*types.AttributeValueMemberS); ok {
				keys = append(keys, k.Value)
			}
		}
	}
	return keys, nil
}

func (s *dynamoStore) Close() error {
	return nil
}
