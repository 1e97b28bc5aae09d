package billing

import (
	"testing"

	"github.com/lumora-ai/lumora-golang/internal/models"
	"github.com/stripe/stripe-go/v79"
)

func TestMapOneTimePurchase(t *testing.T) {
	t.Run("known cent amounts", func(t *testing.T) {
		label, credits, ok := mapOneTimePurchase(2700)
		if !ok || label != "explorer" || credits != 800 {
			t.Fatalf("mapOneTimePurchase(2700) = (%q, %d, %v), want (explorer, 800, true)", label, credits, ok)
		}

		label, credits, ok = mapOneTimePurchase(4700)
		if !ok || label != "a_la_carte" || credits != 2500 {
			t.Fatalf("mapOneTimePurchase(4700) = (%q, %d, %v), want (a_la_carte, 2500, true)", label, credits, ok)
		}
	})

	t.Run("near-miss and unknown amounts credit nothing", func(t *testing.T) {
		for _, amountCents := range []int64{0, 1, 27, 47, 2699, 2701, 2799, 4699, 4701, 10000} {
			if _, _, ok := mapOneTimePurchase(amountCents); ok {
				t.Fatalf("mapOneTimePurchase(%d) = ok, want miss", amountCents)
			}
		}
	})
}

func TestShouldApplyPlanChange(t *testing.T) {
	cases := []struct {
		name     string
		current  string
		incoming string
		want     bool
	}{
		{"upgrade applies", "basic", "premium", true},
		{"same tier re-applies", "premium", "premium", true},
		{"manual premium survives basic billing sync", "premium", "basic", false},
		{"manual ultra survives enterprise sync", "ultra", "enterprise", false},
		{"free upgrades to anything", "free", "basic", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldApplyPlanChange(tc.current, tc.incoming); got != tc.want {
				t.Fatalf("shouldApplyPlanChange(%q, %q) = %v, want %v", tc.current, tc.incoming, got, tc.want)
			}
		})
	}
}

func TestSubscriptionStatusFromStripe(t *testing.T) {
	cases := []struct {
		in   stripe.SubscriptionStatus
		want string
	}{
		{stripe.SubscriptionStatusActive, models.SubscriptionStatusActive},
		{stripe.SubscriptionStatusTrialing, models.SubscriptionStatusActive},
		{stripe.SubscriptionStatusPastDue, models.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusUnpaid, models.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusCanceled, models.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusIncomplete, models.SubscriptionStatusCreated},
	}
	for _, tc := range cases {
		if got := subscriptionStatusFromStripe(tc.in); got != tc.want {
			t.Fatalf("subscriptionStatusFromStripe(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPlanFromPrice(t *testing.T) {
	cfg := Config{PriceIDs: map[string]string{
		"basic":   "price_basic123",
		"premium": "price_premium123",
	}}

	t.Run("configured price id wins", func(t *testing.T) {
		price := &stripe.Price{ID: "price_premium123", Nickname: "Basic"}
		if got := planFromPrice(cfg, price); got != "premium" {
			t.Fatalf("planFromPrice = %q, want premium", got)
		}
	})

	t.Run("metadata plan_name is normalized", func(t *testing.T) {
		price := &stripe.Price{
			ID:       "price_unknown",
			Metadata: map[string]string{"plan_name": "Enterprise"},
		}
		if got := planFromPrice(cfg, price); got != "enterprise" {
			t.Fatalf("planFromPrice = %q, want enterprise", got)
		}
	})

	t.Run("nickname fallback", func(t *testing.T) {
		price := &stripe.Price{ID: "price_unknown", Nickname: "Ultra"}
		if got := planFromPrice(cfg, price); got != "ultra" {
			t.Fatalf("planFromPrice = %q, want ultra", got)
		}
	})

	t.Run("unresolvable price yields empty", func(t *testing.T) {
		price := &stripe.Price{ID: "price_unknown", Nickname: "Legacy Gold"}
		if got := planFromPrice(cfg, price); got != "" {
			t.Fatalf("planFromPrice = %q, want empty", got)
		}
	})
}

func TestPlanFromSubscription(t *testing.T) {
	cfg := Config{PriceIDs: map[string]string{"basic": "price_basic123"}}

	sub := &stripe.Subscription{
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_addon"}},
				{Price: &stripe.Price{ID: "price_basic123"}},
			},
		},
	}
	if got := planFromSubscription(cfg, sub); got != "basic" {
		t.Fatalf("planFromSubscription = %q, want basic", got)
	}

	if got := planFromSubscription(cfg, &stripe.Subscription{}); got != "" {
		t.Fatalf("planFromSubscription(no items) = %q, want empty", got)
	}
}
