package cache

import (
	"time"

	accountdomain "github.com/smallbiznis/voxbill/internal/account/domain"
	rateplandomain "github.com/smallbiznis/voxbill/internal/rateplan/domain"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	"go.uber.org/fx"
)

// Module provides the rating hot-path cache.
var Module = fx.Module("cache",
	fx.Provide(NewRatingResolverCache),
)

const (
	defaultAccountTTL      = 45 * time.Second
	defaultSubscriptionTTL = 45 * time.Second
	defaultPlanTTL         = 10 * time.Minute
)

// RatingResolverCache stores hot-path resolver lookups for CDR rating.
// Accounts carry a mutable balance, so they get the short TTL.
type RatingResolverCache interface {
	GetAccount(id string) (*accountdomain.Account, bool)
	SetAccount(id string, account *accountdomain.Account)
	GetActiveSubscription(accountID string) (*subscriptiondomain.Subscription, bool)
	SetActiveSubscription(accountID string, sub *subscriptiondomain.Subscription)
	GetRatePlan(id string) (*rateplandomain.RatePlan, bool)
	SetRatePlan(id string, plan *rateplandomain.RatePlan)
}

type ratingResolverCache struct {
	accounts      Cache[string, *accountdomain.Account]
	subscriptions Cache[string, *subscriptiondomain.Subscription]
	plans         Cache[string, *rateplandomain.RatePlan]
}

func NewRatingResolverCache() RatingResolverCache {
	return &ratingResolverCache{
		accounts:      NewTTLCache[string, *accountdomain.Account](),
		subscriptions: NewTTLCache[string, *subscriptiondomain.Subscription](),
		plans:         NewTTLCache[string, *rateplandomain.RatePlan](),
	}
}

func (c *ratingResolverCache) GetAccount(id string) (*accountdomain.Account, bool) {
	return c.accounts.Get(id)
}

func (c *ratingResolverCache) SetAccount(id string, account *accountdomain.Account) {
	c.accounts.Set(id, account, defaultAccountTTL)
}

func (c *ratingResolverCache) GetActiveSubscription(accountID string) (*subscriptiondomain.Subscription, bool) {
	return c.subscriptions.Get(accountID)
}

func (c *ratingResolverCache) SetActiveSubscription(accountID string, sub *subscriptiondomain.Subscription) {
	c.subscriptions.Set(accountID, sub, defaultSubscriptionTTL)
}

func (c *ratingResolverCache) GetRatePlan(id string) (*rateplandomain.RatePlan, bool) {
	return c.plans.Get(id)
}

func (c *ratingResolverCache) SetRatePlan(id string, plan *rateplandomain.RatePlan) {
	c.plans.Set(id, plan, defaultPlanTTL)
}
