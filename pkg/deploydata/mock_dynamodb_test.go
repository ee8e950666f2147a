package deploydata

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// MockDynamoDBAPI implements the dynamodbiface.DynamoDBAPI interface for testing
type MockDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI
	mu       sync.RWMutex
	tables   map[string][]map[string]*dynamodb.AttributeValue
	pageSize int
	queries  int
}

// NewMockDynamoDBAPI creates a new mock DynamoDB client
func NewMockDynamoDBAPI(tables ...string) *MockDynamoDBAPI {
	m := &MockDynamoDBAPI{tables: make(map[string][]map[string]*dynamodb.AttributeValue)}
	for _, t := range tables {
		m.tables[t] = nil
	}
	return m
}

// PutItem puts an item in a mock table
func (m *MockDynamoDBAPI) PutItem(input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tableName := aws.StringValue(input.TableName)
	if _, exists := m.tables[tableName]; !exists {
		return nil, fmt.Errorf("table not found: %s", tableName)
	}
	m.tables[tableName] = append(m.tables[tableName], input.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// QueryWithContext returns items whose attributes contain every expression value.
// Pages of pageSize items are returned with a LastEvaluatedKey when set.
func (m *MockDynamoDBAPI) QueryWithContext(_ aws.Context, input *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	tableName := aws.StringValue(input.TableName)
	items, exists := m.tables[tableName]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}

	sorted := make([]map[string]*dynamodb.AttributeValue, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := numberAttr(sorted[i], "deploymentTime"), numberAttr(sorted[j], "deploymentTime")
		if aws.BoolValue(input.ScanIndexForward) {
			return ti < tj
		}
		return ti > tj
	})

	// Resume after the exclusive start key
	start := 0
	if input.ExclusiveStartKey != nil {
		for i, item := range sorted {
			if sameKey(item, input.ExclusiveStartKey) {
				start = i + 1
				break
			}
		}
	}

	end := len(sorted)
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
	}

	// Key condition first, filter second, both applied per page like the real service
	var result []map[string]*dynamodb.AttributeValue
	for _, item := range sorted[start:end] {
		if matchesValues(item, input.ExpressionAttributeValues) {
			result = append(result, item)
		}
	}

	out := &dynamodb.QueryOutput{Items: result, Count: aws.Int64(int64(len(result)))}
	if end < len(sorted) {
		last := sorted[end-1]
		out.LastEvaluatedKey = map[string]*dynamodb.AttributeValue{
			"deploymentName": last["deploymentName"],
			"deploymentTime": last["deploymentTime"],
		}
	}
	return out, nil
}

func matchesValues(item map[string]*dynamodb.AttributeValue, values map[string]*dynamodb.AttributeValue) bool {
	for _, v := range values {
		found := false
		for _, attr := range item {
			if attr.S != nil && v.S != nil && *attr.S == *v.S {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sameKey(item, key map[string]*dynamodb.AttributeValue) bool {
	return aws.StringValue(item["deploymentName"].S) == aws.StringValue(key["deploymentName"].S) &&
		numberAttr(item, "deploymentTime") == numberAttr(key, "deploymentTime")
}

func numberAttr(item map[string]*dynamodb.AttributeValue, name string) int64 {
	attr, ok := item[name]
	if !ok || attr.N == nil {
		return 0
	}
	n, _ := strconv.ParseInt(*attr.N, 10, 64)
	return n
}
