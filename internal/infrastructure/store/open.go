package store

import (
	"context"
	"fmt"
	"log"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Backend selects where orders are kept.
type Backend struct {
	Kind                 string // postgres, dynamodb or memory
	DatabaseURL          string
	OrdersTable          string
	ProcessedEventsTable string
	// Migrate applies the embedded schema before use (postgres only).
	Migrate bool
}

// Open builds the OrderStore for b. The returned close func releases any
// connections and is never nil.
func Open(ctx context.Context, b Backend) (OrderStore, func() error, error) {
	noop := func() error { return nil }

	switch b.Kind {
	case "postgres":
		db, err := ConnectPostgres(b.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		if b.Migrate {
			if err := Migrate(db); err != nil {
				db.Close()
				return nil, noop, err
			}
			log.Println("[Store] Migrations applied")
		}
		return NewPostgresOrderStore(db), db.Close, nil

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return NewDynamoOrderStore(client, b.OrdersTable, b.ProcessedEventsTable), noop, nil

	case "memory":
		log.Println("[Store] Using in-memory order store; orders are lost on restart")
		return NewMemoryOrderStore(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown order store %q", b.Kind)
	}
}
