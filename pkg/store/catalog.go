package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
	"readerapp/internal/util"
	"readerapp/pkg/domain"
)

// CatalogStore keeps every book as one field of the Books hash.
//
// Search is a full scan of the hash: fine for a small catalog, linear in its
// size otherwise.
type CatalogStore struct {
	kv       KV
	searches singleflight.Group
}

// NewCatalogStore builds a catalog on kv.
func NewCatalogStore(kv KV) *CatalogStore {
	return &CatalogStore{kv: kv}
}

// Search returns books whose name or author contains keyword (case-sensitive).
// An empty keyword yields an empty list without touching the store.
func (c *CatalogStore) Search(ctx context.Context, keyword string) ([]domain.Book, error) {
	if keyword == "" {
		return []domain.Book{}, nil
	}
	// Identical concurrent searches share one scan, so it must not die with
	// whichever caller started it. The KV call timeout still bounds it.
	scanCtx := context.WithoutCancel(ctx)
	v, err, _ := c.searches.Do(keyword, func() (any, error) {
		return c.scan(scanCtx, keyword)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]domain.Book)
	out := make([]domain.Book, len(shared))
	copy(out, shared)
	return out, nil
}

func (c *CatalogStore) scan(ctx context.Context, keyword string) ([]domain.Book, error) {
	vals, err := c.kv.HVals(ctx, Key(ClassBooks))
	if err != nil {
		return nil, domain.StoreError("load catalog failed", err)
	}
	out := make([]domain.Book, 0)
	for _, raw := range vals {
		var book domain.Book
		if err := json.Unmarshal([]byte(raw), &book); err != nil {
			util.LoggerFromContext(ctx).Debug("skip undecodable book", "err", err)
			continue
		}
		if strings.Contains(book.Name, keyword) || strings.Contains(book.Author, keyword) {
			out = append(out, book)
		}
	}
	return out, nil
}

// FindOne looks a book up by name and author. Both are trimmed the same way
// Add trims them before building the key.
func (c *CatalogStore) FindOne(ctx context.Context, name, author string) (domain.Book, bool, error) {
	return c.FindByRef(ctx, BookRef(strings.TrimSpace(name), strings.TrimSpace(author)))
}

// FindByRef looks a book up by its hash field.
func (c *CatalogStore) FindByRef(ctx context.Context, ref string) (domain.Book, bool, error) {
	raw, ok, err := c.kv.HGet(ctx, Key(ClassBooks), ref)
	if err != nil {
		return domain.Book{}, false, domain.StoreError("load book failed", err)
	}
	if !ok {
		return domain.Book{}, false, nil
	}
	var book domain.Book
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		util.LoggerFromContext(ctx).Warn("undecodable book record", "ref", ref, "err", err)
		return domain.Book{}, false, nil
	}
	return book, true, nil
}

// Add validates book and inserts it unless a book with the same trimmed name
// and author exists. The insert is a single HSETNX, so two concurrent adds of
// the same pair cannot both succeed. The record is stored as submitted.
func (c *CatalogStore) Add(ctx context.Context, book domain.Book) error {
	name := strings.TrimSpace(book.Name)
	author := strings.TrimSpace(book.Author)
	switch {
	case name == "":
		return domain.ErrEmptyName
	case author == "":
		return domain.ErrEmptyAuthor
	case book.ImgIcon == "":
		return domain.ErrBadImage
	case book.Brief == "":
		return domain.ErrEmptyBrief
	case book.Price <= 0:
		return domain.ErrBadPrice
	}

	payload, err := json.Marshal(book)
	if err != nil {
		return domain.StoreError("encode book failed", err)
	}
	set, err := c.kv.HSetNX(ctx, Key(ClassBooks), BookRef(name, author), string(payload))
	if err != nil {
		return domain.StoreError("save book failed", err)
	}
	if !set {
		return &domain.Error{Code: domain.CodeAlreadyExists, Message: fmt.Sprintf("book %q by %q already exists", name, author)}
	}
	return nil
}
