package store

import (
	"context"
	"time"

	"readerapp/pkg/domain"
)

// HistoryStore keeps each reader's search terms in a sorted set scored by the
// time of the last search, in milliseconds.
type HistoryStore struct {
	kv  KV
	now func() time.Time
}

// NewHistoryStore builds a history store using the wall clock.
func NewHistoryStore(kv KV) *HistoryStore {
	return &HistoryStore{kv: kv, now: time.Now}
}

// Add records term for account. Searching the same term again only moves it.
func (h *HistoryStore) Add(ctx context.Context, account, term string) error {
	if account == "" {
		return domain.ErrEmptyAccount
	}
	if term == "" {
		return domain.ErrEmptyKeyword
	}
	score := float64(h.now().UnixMilli())
	if _, err := h.kv.ZAdd(ctx, Key(ClassHistory, account), term, score); err != nil {
		return domain.StoreError("save search history failed", err)
	}
	return nil
}

// List returns every term of account, oldest search first.
func (h *HistoryStore) List(ctx context.Context, account string) ([]string, error) {
	if account == "" {
		return nil, domain.ErrEmptyAccount
	}
	members, err := h.kv.ZRangeAll(ctx, Key(ClassHistory, account))
	if err != nil {
		return nil, domain.StoreError("load search history failed", err)
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Member)
	}
	return out, nil
}

// Clear drops the whole history of account. Clearing an empty history is
// reported as a store error.
func (h *HistoryStore) Clear(ctx context.Context, account string) error {
	if account == "" {
		return domain.ErrEmptyAccount
	}
	deleted, err := h.kv.Del(ctx, Key(ClassHistory, account))
	if err != nil {
		return domain.StoreError("clear search history failed", err)
	}
	if !deleted {
		return &domain.Error{Code: domain.CodeStoreError, Message: "nothing to clear"}
	}
	return nil
}
