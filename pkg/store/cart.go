package store

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
	"readerapp/pkg/domain"
)

const cartResolveConcurrency = 8

// CartStore keeps each reader's cart as a sorted set of book refs scored by
// the rating the reader gave.
type CartStore struct {
	kv      KV
	catalog *CatalogStore
}

// NewCartStore builds a cart store resolving entries through catalog.
func NewCartStore(kv KV, catalog *CatalogStore) *CartStore {
	return &CartStore{kv: kv, catalog: catalog}
}

// Add puts the book into the cart of account, or updates its rating. Ratings
// are kept as sorted-set scores, exact within ±2^53.
func (c *CartStore) Add(ctx context.Context, account, name, author string, rating int64) error {
	ref, err := cartRef(account, name, author)
	if err != nil {
		return err
	}
	if _, err := c.kv.ZAdd(ctx, Key(ClassCart, account), ref, float64(rating)); err != nil {
		return domain.StoreError("save cart entry failed", err)
	}
	return nil
}

// Remove takes the book out of the cart of account. Removing a book that is
// not in the cart succeeds.
func (c *CartStore) Remove(ctx context.Context, account, name, author string) error {
	ref, err := cartRef(account, name, author)
	if err != nil {
		return err
	}
	if _, err := c.kv.ZRem(ctx, Key(ClassCart, account), ref); err != nil {
		return domain.StoreError("remove cart entry failed", err)
	}
	return nil
}

// List returns the cart of account ascending by rating. Entries whose book is
// no longer in the catalog are left out.
func (c *CartStore) List(ctx context.Context, account string) ([]domain.CartItem, error) {
	if account == "" {
		return nil, domain.ErrEmptyAccount
	}
	members, err := c.kv.ZRangeAll(ctx, Key(ClassCart, account))
	if err != nil {
		return nil, domain.StoreError("load cart failed", err)
	}

	resolved := make([]*domain.CartItem, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cartResolveConcurrency)
	for i, m := range members {
		g.Go(func() error {
			book, ok, err := c.catalog.FindByRef(gctx, m.Member)
			if err != nil {
				return err
			}
			if ok {
				resolved[i] = &domain.CartItem{Book: book, Rating: int64(m.Score)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.CartItem, 0, len(members))
	for _, item := range resolved {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out, nil
}

func cartRef(account, name, author string) (string, error) {
	if account == "" {
		return "", domain.ErrEmptyAccount
	}
	name = strings.TrimSpace(name)
	author = strings.TrimSpace(author)
	if name == "" {
		return "", domain.ErrEmptyName
	}
	if author == "" {
		return "", domain.ErrEmptyAuthor
	}
	return BookRef(name, author), nil
}
