package domain

import (
	"context"
	"fmt"
	"log"

	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

// ValidateStock checks every line item against live inventory, in item
// order, and stops at the first failure. A product that cannot be fetched,
// for any reason, counts as missing. Quantities of a product listed more
// than once are summed before comparing with its stock. The returned items
// carry the prices observed during the check and total is their sum.
func ValidateStock(ctx context.Context, inv InventoryClient, items []order.LineItem) ([]SessionItem, decimal.Decimal, error) {
	priced := make([]SessionItem, 0, len(items))
	products := make(map[string]*Product, len(items))
	prices := make(map[string]decimal.Decimal, len(items))
	requested := make(map[string]int, len(items))

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: invalid quantity %d for product %s",
				ErrOrchestrationFailure, item.Quantity, item.ProductID)
		}

		product, ok := products[item.ProductID]
		if !ok {
			p, err := inv.GetProduct(ctx, item.ProductID)
			if err != nil || p == nil {
				if err != nil {
					log.Printf("[Inventory] Product %s unavailable: %v", item.ProductID, err)
				}
				return nil, decimal.Zero, NotFound("product %s", item.ProductID)
			}
			product = p
			products[item.ProductID] = p
			prices[item.ProductID] = p.Price
		}

		requested[item.ProductID] += item.Quantity
		if product.Stock < requested[item.ProductID] {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID: item.ProductID,
				Available: product.Stock,
				Requested: requested[item.ProductID],
			}
		}

		priced = append(priced, SessionItem{
			ProductID: item.ProductID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  item.Quantity,
		})
	}

	return priced, order.Total(prices, items), nil
}
