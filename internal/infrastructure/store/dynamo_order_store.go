package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

const (
	userIndexName    = "user_id-index"
	sessionIndexName = "checkout_session_id-index"

	// timeLayout is fixed width so timestamps stored as strings sort
	// chronologically in filter comparisons.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoOrderStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoOrderStore stores orders in DynamoDB.
// Order changes are streamed to Kinesis Data Streams via the table's Kinesis integration.
type DynamoOrderStore struct {
	client          DynamoAPI
	tableName       string
	eventsTableName string
}

// dynamoOrder represents the DynamoDB item structure
type dynamoOrder struct {
	ID                string `dynamodbav:"id"`
	UserID            string `dynamodbav:"user_id"`
	CustomerEmail     string `dynamodbav:"customer_email"`
	Items             string `dynamodbav:"items"`
	Status            string `dynamodbav:"status"`
	TotalAmount       string `dynamodbav:"total_amount"`
	CheckoutSessionID string `dynamodbav:"checkout_session_id,omitempty"`
	FulfilmentStep    string `dynamodbav:"fulfilment_step"`
	Version           int    `dynamodbav:"version"`
	CreatedAt         string `dynamodbav:"created_at"`
	UpdatedAt         string `dynamodbav:"updated_at"`
	PaymentConfirmed  string `dynamodbav:"payment_confirmed_at,omitempty"`
}

type dynamoProcessedEvent struct {
	EventID     string `dynamodbav:"event_id"`
	OrderID     string `dynamodbav:"order_id"`
	ProcessedAt string `dynamodbav:"processed_at"`
}

func NewDynamoOrderStore(client DynamoAPI, tableName, eventsTableName string) *DynamoOrderStore {
	return &DynamoOrderStore{
		client:          client,
		tableName:       tableName,
		eventsTableName: eventsTableName,
	}
}

func (s *DynamoOrderStore) Create(ctx context.Context, o *order.Order) error {
	o.Version = 1
	av, err := marshalOrder(o)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("failed to put order: %w", err)
	}
	return nil
}

func (s *DynamoOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if result.Item == nil {
		return nil, order.ErrOrderNotFound
	}
	return unmarshalOrder(result.Item)
}

func (s *DynamoOrderStore) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(sessionIndexName),
		KeyConditionExpression: aws.String("checkout_session_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order by session: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, order.ErrOrderNotFound
	}

	// GSIs are eventually consistent; reload from the base table.
	o, err := unmarshalOrder(result.Items[0])
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, o.ID)
}

func (s *DynamoOrderStore) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(userIndexName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})

	var result []*order.Order
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query orders by user: %w", err)
		}
		orders, err := unmarshalOrders(page.Items)
		if err != nil {
			return nil, err
		}
		result = append(result, orders...)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Save overwrites the order item if the stored version still matches.
func (s *DynamoOrderStore) Save(ctx context.Context, o *order.Order) error {
	next := *o
	next.Version = o.Version + 1
	av, err := marshalOrder(&next)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(id) AND version = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: fmt.Sprint(o.Version)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if _, getErr := s.Get(ctx, o.ID); getErr != nil {
				return getErr
			}
			return fmt.Errorf("%w: order %s version %d", order.ErrConcurrentUpdate, o.ID, o.Version)
		}
		return fmt.Errorf("failed to save order: %w", err)
	}

	o.Version = next.Version
	return nil
}

func (s *DynamoOrderStore) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
		FilterExpression: aws.String(
			"(#status = :pending OR (#status = :paid AND fulfilment_step <> :completed)) AND updated_at < :before"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending":   &types.AttributeValueMemberS{Value: string(order.StatusPending)},
			":paid":      &types.AttributeValueMemberS{Value: string(order.StatusPaid)},
			":completed": &types.AttributeValueMemberS{Value: string(order.StepCompleted)},
			":before":    &types.AttributeValueMemberS{Value: formatTime(before)},
		},
	})

	var result []*order.Order
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unsettled orders: %w", err)
		}
		orders, err := unmarshalOrders(page.Items)
		if err != nil {
			return nil, err
		}
		result = append(result, orders...)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *DynamoOrderStore) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.eventsTableName),
		Key:       map[string]types.AttributeValue{"event_id": &types.AttributeValueMemberS{Value: eventID}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get processed event: %w", err)
	}
	return result.Item != nil, nil
}

func (s *DynamoOrderStore) MarkEventProcessed(ctx context.Context, eventID, orderID string) error {
	av, err := attributevalue.MarshalMap(dynamoProcessedEvent{
		EventID:     eventID,
		OrderID:     orderID,
		ProcessedAt: formatTime(time.Now()),
	})
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.eventsTableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(event_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		return fmt.Errorf("failed to put processed event: %w", err)
	}
	return nil
}

func marshalOrder(o *order.Order) (map[string]types.AttributeValue, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, err
	}
	do := dynamoOrder{
		ID:                o.ID,
		UserID:            o.UserID,
		CustomerEmail:     o.CustomerEmail,
		Items:             string(items),
		Status:            string(o.Status),
		TotalAmount:       o.TotalAmount.String(),
		CheckoutSessionID: o.CheckoutSessionID,
		FulfilmentStep:    string(o.FulfilmentStep),
		Version:           o.Version,
		CreatedAt:         formatTime(o.CreatedAt),
		UpdatedAt:         formatTime(o.UpdatedAt),
	}
	if o.PaymentConfirmedAt != nil {
		do.PaymentConfirmed = formatTime(*o.PaymentConfirmedAt)
	}
	av, err := attributevalue.MarshalMap(do)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return av, nil
}

func unmarshalOrder(item map[string]types.AttributeValue) (*order.Order, error) {
	var do dynamoOrder
	if err := attributevalue.UnmarshalMap(item, &do); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}

	o := &order.Order{
		ID:                do.ID,
		UserID:            do.UserID,
		CustomerEmail:     do.CustomerEmail,
		Status:            order.Status(do.Status),
		CheckoutSessionID: do.CheckoutSessionID,
		FulfilmentStep:    order.Step(do.FulfilmentStep),
		Version:           do.Version,
	}
	if err := json.Unmarshal([]byte(do.Items), &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of order %s: %w", do.ID, err)
	}
	total, err := decimal.NewFromString(do.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total of order %s: %w", do.ID, err)
	}
	o.TotalAmount = total
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, do.CreatedAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, do.UpdatedAt)
	if do.PaymentConfirmed != "" {
		at, err := time.Parse(time.RFC3339Nano, do.PaymentConfirmed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment confirmation of order %s: %w", do.ID, err)
		}
		o.PaymentConfirmedAt = &at
	}
	return o, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func unmarshalOrders(items []map[string]types.AttributeValue) ([]*order.Order, error) {
	result := make([]*order.Order, 0, len(items))
	for _, item := range items {
		o, err := unmarshalOrder(item)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}
