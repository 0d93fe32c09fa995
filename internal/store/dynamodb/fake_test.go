package dynamodb_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-process stand-in for the handful of DynamoDB calls
// the driver makes. It understands only the condition expressions the
// driver writes.
type fakeDynamo struct {
	mu     sync.Mutex
	keys   map[string][]string // table -> key attribute names
	tables map[string]map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		keys:   make(map[string][]string),
		tables: make(map[string]map[string]map[string]types.AttributeValue),
	}
}

func (f *fakeDynamo) itemKey(table string, item map[string]types.AttributeValue) string {
	var key string
	for _, name := range f.keys[table] {
		key += stringValue(item[name]) + "|"
	}
	return key
}

func stringValue(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	var keys []string
	for _, k := range in.KeySchema {
		keys = append(keys, aws.ToString(k.AttributeName))
	}
	f.keys[name] = keys
	f.tables[name] = make(map[string]map[string]types.AttributeValue)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.tables[aws.ToString(in.TableName)]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := aws.ToString(in.TableName)
	return &dynamodb.GetItemOutput{Item: f.tables[table][f.itemKey(table, in.Key)]}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var items []map[string]types.AttributeValue
	for _, item := range f.tables[aws.ToString(in.TableName)] {
		if in.FilterExpression != nil {
			attr := in.ExpressionAttributeNames["#k"]
			if stringValue(item[attr]) != stringValue(in.ExpressionAttributeValues[":kind"]) {
				continue
			}
		}
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := aws.ToString(in.TableName)
	hash := f.keys[table][0]
	want := stringValue(in.ExpressionAttributeValues[":id"])

	var items []map[string]types.AttributeValue
	for _, item := range f.tables[table] {
		if stringValue(item[hash]) == want {
			items = append(items, item)
		}
	}
	if len(f.keys[table]) > 1 {
		rng := f.keys[table][1]
		sort.Slice(items, func(i, j int) bool {
			return stringValue(items[i][rng]) < stringValue(items[j][rng])
		})
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, w := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if w.Put == nil {
			return nil, fmt.Errorf("fake supports Put only")
		}
		if !f.checkLocked(w.Put) {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, w := range in.TransactItems {
		table := aws.ToString(w.Put.TableName)
		f.tables[table][f.itemKey(table, w.Put.Item)] = w.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) checkLocked(put *types.Put) bool {
	table := aws.ToString(put.TableName)
	existing, exists := f.tables[table][f.itemKey(table, put.Item)]

	switch aws.ToString(put.ConditionExpression) {
	case "":
		return true
	case "attribute_not_exists(id)":
		return !exists
	case "attribute_exists(id) AND #s = :expect AND #v = :version":
		if !exists {
			return false
		}
		status := existing[put.ExpressionAttributeNames["#s"]]
		version := existing[put.ExpressionAttributeNames["#v"]]
		return stringValue(status) == stringValue(put.ExpressionAttributeValues[":expect"]) &&
			stringValue(version) == stringValue(put.ExpressionAttributeValues[":version"])
	}
	panic("fakeDynamo: unsupported condition " + aws.ToString(put.ConditionExpression))
}
