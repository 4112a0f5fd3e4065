package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/checkout-saga/internal/clients"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/email"
	"github.com/example/checkout-saga/internal/infrastructure/kafka"
	"github.com/example/checkout-saga/internal/notification"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configuration from environment variables
	kafkaBrokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	kafkaBrokers := strings.Split(kafkaBrokersStr, ",")
	kafkaTopic := getEnv("KAFKA_TOPIC", "order-events")
	consumerGroup := "email-notifier" // Dedicated consumer group for email notifications

	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	smtpFrom := getEnv("SMTP_FROM", "noreply@example.com")
	currency := getEnv("CURRENCY", "usd")

	inventoryURL := getEnv("INVENTORY_URL", "http://localhost:8081")
	serviceAPIKey := os.Getenv("SERVICE_API_KEY")

	log.Println("[Notifier] ========================================")
	log.Println("[Notifier] Checkout Saga - Email Notification Service")
	log.Println("[Notifier] ========================================")
	log.Printf("[Notifier] Kafka: %v", kafkaBrokers)
	log.Printf("[Notifier] Topic: %s", kafkaTopic)
	log.Printf("[Notifier] Group: %s", consumerGroup)
	log.Printf("[Notifier] SMTP: %s:%s", smtpHost, smtpPort)
	log.Printf("[Notifier] From: %s", smtpFrom)

	// Product names for the email come from inventory.
	inventory := clients.NewInventoryClient(inventoryURL, serviceAPIKey, 5*time.Second, clients.DefaultBreakerSettings())

	emailSvc := email.NewService(smtpHost, smtpPort, smtpFrom)
	handler := notification.NewHandler(emailSvc, inventory, currency)

	consumer := kafka.NewConsumer(kafkaBrokers, kafkaTopic, consumerGroup).WithEventTypes(order.EventOrderPaid)
	defer consumer.Close()

	go func() {
		log.Println("[Notifier] Starting event consumer...")
		log.Printf("[Notifier] Listening to topic: %s", kafkaTopic)
		if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
			log.Printf("[Notifier] Consumer error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Notifier] Shutting down...")
	cancel()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
