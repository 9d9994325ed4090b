// Package checkout creates online payment orders with the payment gateway.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"

	razorpay "github.com/razorpay/razorpay-go"
)

var ErrNotConfigured = errors.New("online payments are not configured")

// Order is a gateway order the client completes with the gateway's checkout.
type Order struct {
	ID       string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
	Receipt  string `json:"receipt"`
}

// Gateway creates orders for an amount in rupees.
type Gateway interface {
	CreateOrder(ctx context.Context, receipt string, amountRupees float64) (*Order, error)
}

type RazorpayGateway struct {
	client *razorpay.Client
	keyID  string
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret), keyID: keyID}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, receipt string, amountRupees float64) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paise := ToPaise(amountRupees)
	data := map[string]interface{}{
		"amount":   paise,
		"currency": "INR",
		"receipt":  receipt,
	}
	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("razorpay create order: response has no id")
	}
	return &Order{ID: id, Amount: paise, Currency: "INR", KeyID: g.keyID, Receipt: receipt}, nil
}

// DisabledGateway is used when no gateway credentials are configured.
type DisabledGateway struct{}

func (DisabledGateway) CreateOrder(context.Context, string, float64) (*Order, error) {
	return nil, ErrNotConfigured
}

// ToPaise converts rupees to the smallest currency unit.
func ToPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}
