package command

// StartCheckout starts a checkout for the caller's current cart.
type StartCheckout struct {
	UserID string
	Email  string
}

// CheckoutResult is returned once a payment session has been created.
type CheckoutResult struct {
	OrderID    string `json:"orderId"`
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
}
