package deploydata

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
)

// DynamoDBStore implements the Store interface using DynamoDB
type DynamoDBStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB deploy data store
func NewDynamoDBStore(client dynamodbiface.DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// GetDeployData queries the newest record of a deployment matching the upload identifier
func (s *DynamoDBStore) GetDeployData(ctx context.Context, environment, distribution, objectIdentifier string) (DeployData, error) {
	keyCond := expression.Key("deploymentName").Equal(expression.Value(DeploymentName(environment, distribution)))
	filter := expression.Name("objectIdentifier").Equal(expression.Value(objectIdentifier))

	expr, err := expression.NewBuilder().
		WithKeyCondition(keyCond).
		WithFilter(filter).
		Build()
	if err != nil {
		return DeployData{}, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		ConsistentRead:            aws.Bool(true),
	}

	// Filters apply after paging, so keep reading until a match or the end
	for {
		result, err := s.client.QueryWithContext(ctx, input)
		if err != nil {
			if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
				return DeployData{}, fmt.Errorf("deploy data table %s does not exist: %w", s.tableName, err)
			}
			return DeployData{}, fmt.Errorf("failed to query deploy data: %w", err)
		}

		for _, item := range result.Items {
			var data DeployData
			if err := dynamodbattribute.UnmarshalMap(item, &data); err != nil {
				return DeployData{}, fmt.Errorf("failed to unmarshal deploy data: %w", err)
			}
			if data.ObjectIdentifier == objectIdentifier {
				return data, nil
			}
		}

		if len(result.LastEvaluatedKey) == 0 {
			return DeployData{}, ErrDeployDataNotFound
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}
