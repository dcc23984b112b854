package client

import (
	"context"
	"errors"
	"fmt"

	"stockmedia-reseller/internal/config"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
)

// BraintreeClient charges cards for point purchases.
type BraintreeClient interface {
	// VaultPaymentMethod takes a frontend nonce and creates a customer, returning a permanent payment token
	VaultPaymentMethod(ctx context.Context, nonce string) (string, error)

	// ChargeOneTime charges a vaulted payment token and returns the transaction id.
	// reference is sent as the Braintree order id.
	ChargeOneTime(ctx context.Context, paymentToken string, amount decimal.Decimal, reference string) (string, error)
}

// ErrPaymentDeclined wraps processor and gateway declines.
var ErrPaymentDeclined = errors.New("payment declined")

type braintreeClientImpl struct {
	gateway *braintree.Braintree
}

// NewBraintreeClient returns nil when no credentials are configured.
func NewBraintreeClient(cfg *config.Braintree) BraintreeClient {
	if !cfg.Enabled() {
		return nil
	}

	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	gateway := braintree.New(
		env,
		cfg.MerchantID,
		cfg.PublicKey,
		cfg.PrivateKey,
	)

	return &braintreeClientImpl{
		gateway: gateway,
	}
}

func (c *braintreeClientImpl) VaultPaymentMethod(ctx context.Context, nonce string) (string, error) {
	req := &braintree.CustomerRequest{
		PaymentMethodNonce: nonce,
	}

	customer, err := c.gateway.Customer().Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to vault payment method: %w", err)
	}

	if customer.DefaultPaymentMethod() == nil {
		return "", fmt.Errorf("no default payment method returned from vault")
	}

	return customer.DefaultPaymentMethod().GetToken(), nil
}

func (c *braintreeClientImpl) ChargeOneTime(ctx context.Context, paymentToken string, amount decimal.Decimal, reference string) (string, error) {
	// braintree amounts are unscaled integers with a scale, 12.50 USD -> NewDecimal(1250, 2)
	cents := amount.Round(2).Shift(2).IntPart()
	if cents <= 0 {
		return "", fmt.Errorf("invalid charge amount %s", amount)
	}

	req := &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             braintree.NewDecimal(cents, 2),
		PaymentMethodToken: paymentToken,
		OrderId:            reference,
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: true,
		},
	}

	tx, err := c.gateway.Transaction().Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("transaction creation failed: %w", err)
	}

	switch tx.Status {
	case braintree.TransactionStatusProcessorDeclined, braintree.TransactionStatusGatewayRejected, braintree.TransactionStatusFailed:
		return "", fmt.Errorf("%w: %s", ErrPaymentDeclined, tx.ProcessorResponseText)
	}

	return tx.Id, nil
}
