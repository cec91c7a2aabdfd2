package service

import (
	"strings"

	checkoutdomain "github.com/smallbiznis/corates/internal/checkout/domain"
	"github.com/smallbiznis/corates/internal/config"
	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
)

type stripeSessionCreator struct {
	create func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessionCreator configures the Stripe API key and returns a creator backed
// by the Checkout Sessions API.
func NewStripeSessionCreator(cfg config.Config) checkoutdomain.SessionCreator {
	if key := strings.TrimSpace(cfg.Stripe.SecretKey); key != "" {
		stripe.Key = key
	}
	return &stripeSessionCreator{create: stripesession.New}
}

func (c *stripeSessionCreator) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.create(params)
}
