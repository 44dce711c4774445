package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v79"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/payments"
)

type BillingService struct {
	accounts    AccountStore
	ledger      *credits.Ledger
	catalog     *credits.Catalog
	payments    PaymentGateway
	frontendURL string
}

func NewBillingService(accounts AccountStore, ledger *credits.Ledger, catalog *credits.Catalog, gateway PaymentGateway, frontendURL string) *BillingService {
	return &BillingService{
		accounts:    accounts,
		ledger:      ledger,
		catalog:     catalog,
		payments:    gateway,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

func (b *BillingService) Catalog() *credits.Catalog {
	return b.catalog
}

// Checkout creates a hosted checkout session for either a subscription tier
// or a credit package and returns its URL. An existing subscription is
// cancelled before a new subscription checkout starts.
func (b *BillingService) Checkout(ctx context.Context, userID uuid.UUID, email string, req models.CheckoutRequest) (string, error) {
	req.Tier = strings.TrimSpace(req.Tier)
	req.PackageID = strings.TrimSpace(req.PackageID)
	if (req.Tier == "") == (req.PackageID == "") {
		return "", invalid("", "exactly one of tier or package_id is required")
	}

	user, err := b.accounts.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}

	params := payments.CheckoutParams{
		UserID:     userID,
		SuccessURL: b.frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  b.frontendURL + "/billing",
		Metadata:   map[string]string{payments.MetaUserID: userID.String()},
	}

	if req.PackageID != "" {
		pkg, ok := b.catalog.PackageByID(req.PackageID)
		if !ok {
			return "", invalid("package_id", "unknown credit package %q", req.PackageID)
		}
		if pkg.PriceID == "" {
			return "", fmt.Errorf("credit package %s has no price configured", pkg.ID)
		}
		params.Mode = payments.ModePayment
		params.PriceID = pkg.PriceID
		params.Metadata[payments.MetaPurchase] = payments.PurchaseCredits
		params.Metadata[payments.MetaPackageID] = pkg.ID
	} else {
		tier := models.Tier(req.Tier)
		if !tier.Valid() || tier == models.TierFree {
			return "", invalid("tier", "unknown paid tier %q", req.Tier)
		}
		plan := b.catalog.PlanByTier(tier)
		if plan.PriceID == "" {
			return "", fmt.Errorf("plan %s has no price configured", plan.Tier)
		}
		if user.Tier == tier && user.StripeSubscriptionID.Valid {
			return "", invalid("tier", "already subscribed to %s", plan.Name)
		}
		params.Mode = payments.ModeSubscription
		params.PriceID = plan.PriceID
		params.Metadata[payments.MetaPurchase] = payments.PurchaseSubscription
		params.Metadata[payments.MetaPriceID] = plan.PriceID
		params.Metadata[payments.MetaUpgrade] = "false"
	}

	customerID, err := b.ensureCustomer(ctx, user, email)
	if err != nil {
		return "", err
	}
	params.CustomerID = customerID

	if params.Mode == payments.ModeSubscription && user.StripeSubscriptionID.Valid {
		// Old and new allotments must never overlap, so the current plan ends now.
		if err := b.payments.CancelSubscription(ctx, user.StripeSubscriptionID.String); err != nil {
			return "", err
		}
		params.Metadata[payments.MetaUpgrade] = "true"
		log.Info().
			Str("user_id", userID.String()).
			Str("subscription_id", user.StripeSubscriptionID.String).
			Msg("Cancelled existing subscription before upgrade checkout")
	}

	url, err := b.payments.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (b *BillingService) Portal(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := b.accounts.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}
	if !user.StripeCustomerID.Valid || user.StripeCustomerID.String == "" {
		return "", ErrNoBillingAccount
	}
	return b.payments.CreatePortalSession(ctx, user.StripeCustomerID.String, b.frontendURL+"/settings/billing")
}

func (b *BillingService) ensureCustomer(ctx context.Context, user *models.User, email string) (string, error) {
	if user.StripeCustomerID.Valid && user.StripeCustomerID.String != "" {
		return user.StripeCustomerID.String, nil
	}
	if email == "" && user.Email.Valid {
		email = user.Email.String
	}
	customerID, err := b.payments.CreateCustomer(ctx, user.ID, email)
	if err != nil {
		return "", err
	}
	if err := b.accounts.SetStripeCustomer(ctx, user.ID, customerID); err != nil {
		return "", fmt.Errorf("save stripe customer: %w", err)
	}
	return customerID, nil
}

// HandleEvent applies a verified Stripe event. Events that cannot be tied to
// a user or plan are logged and dropped; only infrastructure failures
// return an error.
func (b *BillingService) HandleEvent(ctx context.Context, event stripe.Event) error {
	logger := log.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return b.handleCheckoutCompleted(ctx, logger, &sess)

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return b.handleSubscriptionChanged(ctx, logger, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return b.handleSubscriptionDeleted(ctx, logger, &sub)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return b.handleInvoicePaid(ctx, logger, &inv)
	}

	logger.Debug().Msg("Ignoring unhandled Stripe event")
	return nil
}

func (b *BillingService) handleCheckoutCompleted(ctx context.Context, logger zerolog.Logger, sess *stripe.CheckoutSession) error {
	rawUserID := sess.Metadata[payments.MetaUserID]
	if rawUserID == "" {
		rawUserID = sess.ClientReferenceID
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		logger.Warn().Str("session_id", sess.ID).Msg("Checkout without a resolvable user, dropping")
		return nil
	}
	if _, err := b.accounts.GetUser(ctx, userID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			logger.Warn().Str("user_id", userID.String()).Msg("Checkout for unknown user, dropping")
			return nil
		}
		return err
	}

	switch sess.Metadata[payments.MetaPurchase] {
	case payments.PurchaseCredits:
		pkg, ok := b.catalog.PackageByID(sess.Metadata[payments.MetaPackageID])
		if !ok {
			logger.Warn().Str("package_id", sess.Metadata[payments.MetaPackageID]).Msg("Checkout for unknown credit package, dropping")
			return nil
		}
		_, err := b.ledger.Credit(ctx, credits.CreditRequest{
			UserID:      userID,
			Amount:      pkg.Credits,
			Kind:        models.KindPurchase,
			Description: "Purchased " + pkg.Name,
			ExternalRef: sess.ID,
		})
		return err

	case payments.PurchaseSubscription:
		plan, ok := b.catalog.PlanByPriceID(sess.Metadata[payments.MetaPriceID])
		if !ok {
			logger.Warn().Str("price_id", sess.Metadata[payments.MetaPriceID]).Msg("Checkout for unknown plan, dropping")
			return nil
		}
		if sess.Customer != nil && sess.Customer.ID != "" {
			if err := b.accounts.SetStripeCustomer(ctx, userID, sess.Customer.ID); err != nil {
				return err
			}
		}
		subscriptionID := ""
		if sess.Subscription != nil {
			subscriptionID = sess.Subscription.ID
		}
		if err := b.accounts.SetSubscription(ctx, userID, plan.Tier, subscriptionID); err != nil {
			return err
		}

		kind := models.KindSubscriptionRenewal
		if sess.Metadata[payments.MetaUpgrade] == "true" {
			kind = models.KindUpgrade
		}
		if plan.MonthlyCredits <= 0 {
			return nil
		}
		_, err := b.ledger.Credit(ctx, credits.CreditRequest{
			UserID:           userID,
			Amount:           plan.MonthlyCredits,
			Kind:             kind,
			Description:      plan.Name + " plan credits",
			ExternalRef:      sess.ID,
			ResetPeriodUsage: true,
		})
		return err
	}

	logger.Warn().Str("session_id", sess.ID).Msg("Checkout with unknown purchase type, dropping")
	return nil
}

func (b *BillingService) handleSubscriptionChanged(ctx context.Context, logger zerolog.Logger, sub *stripe.Subscription) error {
	user, ok, err := b.userForCustomer(ctx, logger, sub.Customer)
	if err != nil || !ok {
		return err
	}

	priceID := subscriptionPriceID(sub)
	plan, ok := b.catalog.PlanByPriceID(priceID)
	if !ok {
		logger.Warn().Str("price_id", priceID).Str("subscription_id", sub.ID).Msg("Subscription for unknown plan, dropping")
		return nil
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
	default:
		logger.Info().Str("subscription_id", sub.ID).Str("status", string(sub.Status)).Msg("Subscription not active, leaving tier unchanged")
		return nil
	}

	if err := b.accounts.SetSubscription(ctx, user.ID, plan.Tier, sub.ID); err != nil {
		return err
	}
	logger.Info().Str("user_id", user.ID.String()).Str("tier", string(plan.Tier)).Msg("Subscription tier updated")
	return nil
}

func (b *BillingService) handleSubscriptionDeleted(ctx context.Context, logger zerolog.Logger, sub *stripe.Subscription) error {
	user, ok, err := b.userForCustomer(ctx, logger, sub.Customer)
	if err != nil || !ok {
		return err
	}

	cleared, err := b.accounts.ClearSubscription(ctx, user.ID, sub.ID)
	if err != nil {
		return err
	}
	if !cleared {
		logger.Info().Str("user_id", user.ID.String()).Str("subscription_id", sub.ID).Msg("Deleted subscription is not the current one, ignoring")
		return nil
	}
	logger.Info().Str("user_id", user.ID.String()).Msg("Subscription ended, tier reset to free")
	return nil
}

func (b *BillingService) handleInvoicePaid(ctx context.Context, logger zerolog.Logger, inv *stripe.Invoice) error {
	if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		logger.Debug().Str("billing_reason", string(inv.BillingReason)).Msg("Invoice is not a renewal, ignoring")
		return nil
	}
	user, ok, err := b.userForCustomer(ctx, logger, inv.Customer)
	if err != nil || !ok {
		return err
	}

	plan, ok := b.catalog.PlanByPriceID(invoicePriceID(inv))
	if !ok {
		plan = b.catalog.PlanByTier(user.Tier)
	}
	if plan.MonthlyCredits <= 0 {
		logger.Warn().Str("user_id", user.ID.String()).Msg("Renewal for a plan without credits, dropping")
		return nil
	}

	_, err = b.ledger.Credit(ctx, credits.CreditRequest{
		UserID:           user.ID,
		Amount:           plan.MonthlyCredits,
		Kind:             models.KindSubscriptionRenewal,
		Description:      plan.Name + " monthly renewal",
		ExternalRef:      inv.ID,
		ResetPeriodUsage: true,
	})
	return err
}

func (b *BillingService) userForCustomer(ctx context.Context, logger zerolog.Logger, customer *stripe.Customer) (*models.User, bool, error) {
	if customer == nil || customer.ID == "" {
		logger.Warn().Msg("Event without customer, dropping")
		return nil, false, nil
	}
	user, err := b.accounts.GetUserByCustomerID(ctx, customer.ID)
	if errors.Is(err, models.ErrUserNotFound) {
		logger.Warn().Str("customer_id", customer.ID).Msg("No user for customer, dropping")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func invoicePriceID(inv *stripe.Invoice) string {
	if inv.Lines == nil {
		return ""
	}
	for _, line := range inv.Lines.Data {
		if line != nil && line.Price != nil && line.Price.ID != "" {
			return line.Price.ID
		}
	}
	return ""
}
