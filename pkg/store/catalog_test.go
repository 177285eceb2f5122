package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"readerapp/pkg/domain"
)

func dune() domain.Book {
	return domain.Book{Name: "Dune", Author: "Herbert", Brief: "sand", ImgIcon: "upload/1_abcdef.png", Price: 10}
}

func TestCatalogAddThenFindOne(t *testing.T) {
	eachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		c := NewCatalogStore(kv)

		require.NoError(t, c.Add(ctx, dune()))
		got, ok, err := c.FindOne(ctx, "Dune", "Herbert")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, dune(), got)

		err = c.Add(ctx, dune())
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.Equal(t, domain.CodeAlreadyExists, domain.CodeOf(err))
	})
}

func TestCatalogAddTrimsIdentity(t *testing.T) {
	eachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		c := NewCatalogStore(kv)

		b := dune()
		b.Name = "  Dune "
		require.NoError(t, c.Add(ctx, b))

		got, ok, err := c.FindOne(ctx, "Dune", " Herbert")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "  Dune ", got.Name)

		assert.ErrorIs(t, c.Add(ctx, dune()), domain.ErrAlreadyExists)
	})
}

func TestCatalogAddValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Book)
		want   domain.Code
	}{
		{"blank name", func(b *domain.Book) { b.Name = "   " }, domain.CodeEmptyName},
		{"blank author", func(b *domain.Book) { b.Author = "" }, domain.CodeEmptyAuthor},
		{"no image", func(b *domain.Book) { b.ImgIcon = "" }, domain.CodeBadImage},
		{"no brief", func(b *domain.Book) { b.Brief = "" }, domain.CodeEmptyBrief},
		{"zero price", func(b *domain.Book) { b.Price = 0 }, domain.CodeBadPrice},
		{"negative price", func(b *domain.Book) { b.Price = -3 }, domain.CodeBadPrice},
		{"name checked first", func(b *domain.Book) { b.Name, b.Price = "", 0 }, domain.CodeEmptyName},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// A closed store proves validation never reaches it.
			kv := NewMemoryKV()
			require.NoError(t, kv.Close())
			c := NewCatalogStore(kv)

			b := dune()
			tc.mutate(&b)
			assert.Equal(t, tc.want, domain.CodeOf(c.Add(context.Background(), b)))
		})
	}
}

func TestCatalogSearch(t *testing.T) {
	eachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		c := NewCatalogStore(kv)

		books := []domain.Book{
			dune(),
			{Name: "Children of Dune", Author: "Herbert", Brief: "b", ImgIcon: "i", Price: 1},
			{Name: "Neuromancer", Author: "Gibson", Brief: "b", ImgIcon: "i", Price: 2},
		}
		for _, b := range books {
			require.NoError(t, c.Add(ctx, b))
		}

		got, err := c.Search(ctx, "Dune")
		require.NoError(t, err)
		assert.ElementsMatch(t, books[:2], got)

		got, err = c.Search(ctx, "Gib")
		require.NoError(t, err)
		assert.Equal(t, books[2:], got)

		got, err = c.Search(ctx, "dune")
		require.NoError(t, err)
		assert.Empty(t, got, "search is case-sensitive")

		got, err = c.Search(ctx, "")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestCatalogSearchEmptyCatalog(t *testing.T) {
	eachKV(t, func(t *testing.T, kv KV) {
		got, err := NewCatalogStore(kv).Search(context.Background(), "anything")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestCatalogSkipsUndecodableRecords(t *testing.T) {
	eachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		c := NewCatalogStore(kv)
		require.NoError(t, c.Add(ctx, dune()))
		_, err := kv.HSet(ctx, Key(ClassBooks), BookRef("Broken", "Herbert"), "{not json")
		require.NoError(t, err)

		got, err := c.Search(ctx, "Herbert")
		require.NoError(t, err)
		assert.Equal(t, []domain.Book{dune()}, got)

		_, ok, err := c.FindOne(ctx, "Broken", "Herbert")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCatalogStoreFailure(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Close())
	c := NewCatalogStore(kv)

	_, err := c.Search(context.Background(), "Dune")
	assert.Equal(t, domain.CodeStoreError, domain.CodeOf(err))
	_, _, err = c.FindOne(context.Background(), "Dune", "Herbert")
	assert.Equal(t, domain.CodeStoreError, domain.CodeOf(err))
}

func TestCatalogConcurrentAddsOneWins(t *testing.T) {
	eachKV(t, func(t *testing.T, kv KV) {
		c := NewCatalogStore(kv)
		const n = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			oks  int
			dups int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := c.Add(context.Background(), dune())
				mu.Lock()
				defer mu.Unlock()
				switch domain.CodeOf(err) {
				case domain.CodeOK:
					oks++
				case domain.CodeAlreadyExists:
					dups++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, oks)
		assert.Equal(t, n-1, dups)
	})
}

// heldKV blocks HVals until release is closed or the call's context ends.
type heldKV struct {
	KV
	entered chan struct{}
	release chan struct{}
}

func (h *heldKV) HVals(ctx context.Context, key string) ([]string, error) {
	h.entered <- struct{}{}
	select {
	case <-h.release:
		return h.KV.HVals(ctx, key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCatalogSharedSearchSurvivesFirstCallerCancel(t *testing.T) {
	kv := &heldKV{KV: NewMemoryKV(), entered: make(chan struct{}, 2), release: make(chan struct{})}
	c := NewCatalogStore(kv)
	require.NoError(t, c.Add(context.Background(), dune()))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Search(firstCtx, "Dune")
		firstDone <- err
	}()
	<-kv.entered
	cancel()

	type result struct {
		books []domain.Book
		err   error
	}
	second := make(chan result, 1)
	go func() {
		books, err := c.Search(context.Background(), "Dune")
		second <- result{books, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(kv.release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []domain.Book{dune()}, got.books)
	assert.NoError(t, <-firstDone)
}
