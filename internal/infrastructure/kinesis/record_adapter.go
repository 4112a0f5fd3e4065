package kinesis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

// OrderChange is one change to the orders table as delivered by the table's
// Kinesis stream integration.
type OrderChange struct {
	EventName string
	Old       *order.Order
	New       *order.Order
}

// BecamePaid reports whether the change moved the order from PENDING to PAID.
func (c *OrderChange) BecamePaid() bool {
	return c.Old != nil && c.New != nil &&
		c.Old.Status == order.StatusPending && c.New.Status == order.StatusPaid
}

// PaidEvent builds the OrderPaid payload for a change that BecamePaid.
func (c *OrderChange) PaidEvent() order.OrderPaid {
	return order.OrderPaid{
		OrderID:       c.New.ID,
		UserID:        c.New.UserID,
		CustomerEmail: c.New.CustomerEmail,
		Items:         c.New.Items,
		Total:         c.New.TotalAmount,
		PaidAt:        c.New.UpdatedAt,
	}
}

// ConvertFromKinesisRecord converts a Kinesis record (DynamoDB Streams format)
// to an OrderChange. Only MODIFY records are converted; others return nil.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*OrderChange, error) {
	var dynamoDBRecord events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(dynamoDBRecord)
}

// ConvertFromDynamoDBStreamRecord converts a DynamoDB Stream record to an OrderChange.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*OrderChange, error) {
	if record.EventName != "MODIFY" {
		return nil, nil
	}

	newOrder, err := convertDynamoDBImage(record.Change.NewImage)
	if err != nil {
		return nil, fmt.Errorf("new image: %w", err)
	}
	change := &OrderChange{EventName: record.EventName, New: newOrder}
	// Tables streaming KEYS_ONLY or NEW_IMAGE carry no old image.
	if record.Change.OldImage != nil {
		if change.Old, err = convertDynamoDBImage(record.Change.OldImage); err != nil {
			return nil, fmt.Errorf("old image: %w", err)
		}
	}
	return change, nil
}

// convertDynamoDBImage rebuilds an order from the attribute layout written by
// store.DynamoOrderStore.
func convertDynamoDBImage(image map[string]events.DynamoDBAttributeValue) (*order.Order, error) {
	if image == nil {
		return nil, fmt.Errorf("DynamoDB image is nil")
	}

	o := &order.Order{}
	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	o.ID = str("id")
	o.UserID = str("user_id")
	o.CustomerEmail = str("customer_email")
	o.Status = order.Status(str("status"))
	o.CheckoutSessionID = str("checkout_session_id")
	o.FulfilmentStep = order.Step(str("fulfilment_step"))

	if o.ID == "" || o.Status == "" {
		return nil, fmt.Errorf("missing required fields: id=%s, status=%s", o.ID, o.Status)
	}

	if items := str("items"); items != "" {
		if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
			return nil, fmt.Errorf("failed to parse items: %w", err)
		}
	}
	if total := str("total_amount"); total != "" {
		d, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("failed to parse total_amount: %w", err)
		}
		o.TotalAmount = d
	}
	for name, dst := range map[string]*time.Time{"created_at": &o.CreatedAt, "updated_at": &o.UpdatedAt} {
		if v := str(name); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", name, err)
			}
			*dst = t
		}
	}
	if v := str("payment_confirmed_at"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment_confirmed_at: %w", err)
		}
		o.PaymentConfirmedAt = &t
	}
	if v, ok := image["version"]; ok && v.DataType() == events.DataTypeNumber {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		o.Version = int(version)
	}

	return o, nil
}

// BatchConvertFromKinesisEvent converts all records from a Kinesis event.
// Returns successfully converted changes and any errors encountered.
func BatchConvertFromKinesisEvent(kinesisEvent events.KinesisEvent) ([]*OrderChange, []error) {
	var changes []*OrderChange
	var errors []error

	for _, record := range kinesisEvent.Records {
		change, err := ConvertFromKinesisRecord(record)
		if err != nil {
			errors = append(errors, fmt.Errorf("record %s: %w", record.EventID, err))
			continue
		}
		if change != nil {
			changes = append(changes, change)
		}
	}

	return changes, errors
}
