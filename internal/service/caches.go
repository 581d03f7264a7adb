package service

import (
	"context"
	"time"

	"forwardbot/internal/cache"
	"forwardbot/internal/models"
)

// AllowListCache keeps each account's allow-list in memory. Writers must
// call Invalidate after changing an allow-list.
type AllowListCache struct {
	cache *cache.LoaderCache[int64, models.AllowList]
}

var _ AllowListSource = (*AllowListCache)(nil)

func NewAllowListCache(repo Repository, size int, ttl time.Duration) *AllowListCache {
	return &AllowListCache{
		cache: cache.NewLoaderCache[int64, models.AllowList](size, ttl, func(ctx context.Context, accountID int64) (models.AllowList, error) {
			entries, err := repo.FindAllowList(ctx, accountID)
			if err != nil {
				return nil, err
			}
			return models.NewAllowList(entries), nil
		}),
	}
}

func (c *AllowListCache) Get(ctx context.Context, accountID int64) (models.AllowList, error) {
	return c.cache.Get(ctx, accountID)
}

func (c *AllowListCache) Invalidate(accountID int64) {
	c.cache.Invalidate(accountID)
}

// AccountCache holds the full account list under a single key
type AccountCache struct {
	cache *cache.LoaderCache[struct{}, []models.Account]
}

func NewAccountCache(repo Repository, ttl time.Duration) *AccountCache {
	return &AccountCache{
		cache: cache.NewLoaderCache[struct{}, []models.Account](1, ttl, func(ctx context.Context, _ struct{}) ([]models.Account, error) {
			return repo.FindAccounts(ctx)
		}),
	}
}

// Accounts returns every registered account
func (c *AccountCache) Accounts(ctx context.Context) ([]models.Account, error) {
	return c.cache.Get(ctx, struct{}{})
}

func (c *AccountCache) Invalidate() {
	c.cache.InvalidateAll()
}
