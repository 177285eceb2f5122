package app

import (
	"context"
	"errors"
	"io"

	"readerapp/internal/metrics"
	"readerapp/internal/util"
	"readerapp/pkg/auth"
	"readerapp/pkg/domain"
	"readerapp/pkg/storage"
	"readerapp/pkg/store"
)

// Config holds runtime dependencies for the core application. A nil
// PasswordScheme compares passwords as stored; a nil Mirror keeps covers on
// local disk only.
type Config struct {
	KV             store.KV
	PasswordScheme auth.Scheme
	UploadDir      string
	Mirror         storage.ObjectStore
	Metrics        *metrics.Collector
}

// App is the reader application: one method per user-facing operation, each
// delegating to exactly one store.
type App struct {
	kv       store.KV
	catalog  *store.CatalogStore
	accounts *store.AccountStore
	history  *store.HistoryStore
	cart     *store.CartStore
	covers   *storage.Ingestor
	metrics  *metrics.Collector
}

// New wires the stores on cfg.KV.
func New(cfg Config) (*App, error) {
	if cfg.KV == nil {
		return nil, ErrStoreRequired
	}
	if cfg.UploadDir == "" {
		return nil, ErrUploadDirRequired
	}
	catalog := store.NewCatalogStore(cfg.KV)
	return &App{
		kv:       cfg.KV,
		catalog:  catalog,
		accounts: store.NewAccountStore(cfg.KV, cfg.PasswordScheme),
		history:  store.NewHistoryStore(cfg.KV),
		cart:     store.NewCartStore(cfg.KV, catalog),
		covers:   storage.NewIngestor(cfg.UploadDir, cfg.Mirror),
		metrics:  cfg.Metrics,
	}, nil
}

// UploadDir is where stored covers live on disk.
func (a *App) UploadDir() string { return a.covers.Dir() }

// Ping checks the store connection.
func (a *App) Ping(ctx context.Context) error { return a.kv.Ping(ctx) }

// Close releases the store connection.
func (a *App) Close() error { return a.kv.Close() }

// Register creates an account.
func (a *App) Register(ctx context.Context, acc domain.Account) error {
	err := a.accounts.Register(ctx, acc)
	a.observe(ctx, "accounts", "register", err)
	return err
}

// Login verifies credentials and returns the account without its password.
func (a *App) Login(ctx context.Context, account, password string) (domain.Account, error) {
	err := a.accounts.Login(ctx, account, password)
	a.observe(ctx, "accounts", "login", err)
	if err != nil {
		return domain.Account{}, err
	}
	acc, ok, err := a.accounts.Find(ctx, account)
	if err != nil || !ok {
		// The record was readable a moment ago; answer with the name alone.
		util.LoggerFromContext(ctx).Warn("load account after login failed", "account", account, "found", ok, "err", err)
		return domain.Account{Account: account}, nil
	}
	return acc, nil
}

// SearchBooks returns matching books. When account is set the keyword is
// also recorded in its history; a failure to record is logged, not returned.
func (a *App) SearchBooks(ctx context.Context, keyword, account string) ([]domain.Book, error) {
	books, err := a.catalog.Search(ctx, keyword)
	a.observe(ctx, "catalog", "search", err)
	if err != nil {
		return nil, err
	}
	if account != "" && keyword != "" {
		herr := a.history.Add(ctx, account, keyword)
		a.observe(ctx, "history", "add", herr)
	}
	return books, nil
}

// FindBook looks a book up by name and author.
func (a *App) FindBook(ctx context.Context, name, author string) (domain.Book, bool, error) {
	book, ok, err := a.catalog.FindOne(ctx, name, author)
	a.observe(ctx, "catalog", "find", err)
	return book, ok, err
}

// AddBook inserts a catalog entry.
func (a *App) AddBook(ctx context.Context, book domain.Book) error {
	err := a.catalog.Add(ctx, book)
	a.observe(ctx, "catalog", "add", err)
	return err
}

// UploadCover stores an uploaded image and returns its relative URL path.
func (a *App) UploadCover(ctx context.Context, filename string, r io.Reader) (string, error) {
	stored, err := a.covers.Ingest(ctx, filename, r)
	a.observe(ctx, "covers", "ingest", err)
	return stored, err
}

func (a *App) ListHistory(ctx context.Context, account string) ([]string, error) {
	terms, err := a.history.List(ctx, account)
	a.observe(ctx, "history", "list", err)
	return terms, err
}

func (a *App) AddHistory(ctx context.Context, account, term string) error {
	err := a.history.Add(ctx, account, term)
	a.observe(ctx, "history", "add", err)
	return err
}

func (a *App) ClearHistory(ctx context.Context, account string) error {
	err := a.history.Clear(ctx, account)
	a.observe(ctx, "history", "clear", err)
	return err
}

func (a *App) ListCart(ctx context.Context, account string) ([]domain.CartItem, error) {
	items, err := a.cart.List(ctx, account)
	a.observe(ctx, "cart", "list", err)
	return items, err
}

func (a *App) AddToCart(ctx context.Context, account, name, author string, rating int64) error {
	err := a.cart.Add(ctx, account, name, author, rating)
	a.observe(ctx, "cart", "add", err)
	return err
}

func (a *App) RemoveFromCart(ctx context.Context, account, name, author string) error {
	err := a.cart.Remove(ctx, account, name, author)
	a.observe(ctx, "cart", "remove", err)
	return err
}

// observe counts the outcome and logs store failures once. Failures with an
// underlying cause are errors; refusals such as clearing an empty history are
// warnings.
func (a *App) observe(ctx context.Context, component, operation string, err error) {
	code := domain.CodeOf(err)
	a.metrics.RecordOperation(component, operation, code.String())
	if code != domain.CodeStoreError {
		return
	}
	logger := util.LoggerFromContext(ctx)
	if errors.Unwrap(err) == nil {
		logger.Warn("store operation refused", "component", component, "operation", operation, "err", err)
		return
	}
	logger.Error("store operation failed",
		"component", component,
		"operation", operation,
		"err", err,
	)
}
