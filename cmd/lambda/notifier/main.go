package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/checkout-saga/internal/clients"
	"github.com/example/checkout-saga/internal/email"
	"github.com/example/checkout-saga/internal/infrastructure/kinesis"
	"github.com/example/checkout-saga/internal/notification"
)

var notificationHandler *notification.Handler

func init() {
	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	smtpFrom := getEnv("SMTP_FROM", "noreply@example.com")
	currency := getEnv("CURRENCY", "usd")

	inventory := clients.NewInventoryClient(
		getEnv("INVENTORY_URL", "http://localhost:8081"),
		os.Getenv("SERVICE_API_KEY"),
		5*time.Second,
		clients.DefaultBreakerSettings(),
	)
	emailSvc := email.NewService(smtpHost, smtpPort, smtpFrom)
	notificationHandler = notification.NewHandler(emailSvc, inventory, currency)

	log.Printf("[Lambda Notifier] Initialized successfully (SMTP: %s:%s)", smtpHost, smtpPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// handler consumes the orders table change stream and emails customers
// whose order just moved from PENDING to PAID.
func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	log.Printf("[Lambda Notifier] Received %d records", len(kinesisEvent.Records))

	var batchItemFailures []events.KinesisBatchItemFailure

	for _, record := range kinesisEvent.Records {
		change, err := kinesis.ConvertFromKinesisRecord(record)
		if err != nil {
			log.Printf("[Lambda Notifier] Failed to convert record %s: %v", record.EventID, err)
			batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
			continue
		}

		// Inserts, removals and changes other than PENDING -> PAID
		if change == nil || !change.BecamePaid() {
			continue
		}

		log.Printf("[Lambda Notifier] Order %s paid", change.New.ID)

		if err := notificationHandler.NotifyPaid(ctx, change.PaidEvent()); err != nil {
			log.Printf("[Lambda Notifier] Failed to notify for order %s: %v", change.New.ID, err)
			batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
			continue
		}
	}

	successCount := len(kinesisEvent.Records) - len(batchItemFailures)
	log.Printf("[Lambda Notifier] Processed %d/%d records successfully", successCount, len(kinesisEvent.Records))

	return events.KinesisEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func main() {
	lambda.Start(handler)
}
