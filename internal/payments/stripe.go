package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient charges completed requests through PaymentIntents:
// a manual-capture hold followed by an immediate capture. The lifecycle
// machine fires this after the terminal transition and does not wait on
// the result.
type StripeClient struct {
	Currency string
}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient(currency string) *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "usd"
	}
	return &StripeClient{Currency: currency}
}

// Charge holds then captures amount against the payer. requestID rides
// along in metadata so settlement can be reconciled downstream; payee
// payout is the settlement system's problem, not ours.
func (s *StripeClient) Charge(ctx context.Context, requestID string, amount int64, payerID, payeeID string) error {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.Currency),
		Customer: stripe.String(payerID),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("request_id", requestID)
	params.AddMetadata("payee_id", payeeID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return err
	}
	_, err = paymentintent.Capture(pi.ID, nil)
	return err
}

// Release cancels a hold, used if settlement is aborted out of band.
func (s *StripeClient) Release(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
