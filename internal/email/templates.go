package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderItem represents an item in an order for email purposes. Orders keep
// only the charged total, so lines carry no prices.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
}

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(orderID string, total decimal.Decimal, currency string, items []OrderItem) string {
	currency = strings.ToUpper(currency)

	var itemsHTML strings.Builder
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%d</td>
			</tr>`,
			html.EscapeString(name),
			item.Quantity,
		))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #4f46e5; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">Your payment was received and your order is being prepared.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Item</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Qty</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #4f46e5; margin-left: 10px;">%s</span>
		</div>

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. Please contact support if you have any questions.
		</p>
	</div>
</body>
</html>`, html.EscapeString(orderID), itemsHTML.String(), formatMoney(total, currency))
}

// formatMoney renders amount with two decimals and thousands separators,
// e.g. "1,234.50 USD".
func formatMoney(amount decimal.Decimal, currency string) string {
	str := amount.Abs().StringFixed(2)
	whole, frac := str[:len(str)-3], str[len(str)-2:]

	var result strings.Builder
	if amount.IsNegative() {
		result.WriteString("-")
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(r)
	}
	result.WriteString(".")
	result.WriteString(frac)
	if currency != "" {
		result.WriteString(" ")
		result.WriteString(currency)
	}
	return result.String()
}
