package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"readerapp/internal/metrics"
	"readerapp/internal/ratelimit"
	"readerapp/pkg/domain"
	"readerapp/pkg/store"
	"readerapp/services/reader/internal/app"
)

type envelope struct {
	Code    domain.Code     `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, kv store.KV, cfg Config) http.Handler {
	t.Helper()
	m := metrics.New()
	a, err := app.New(app.Config{KV: kv, UploadDir: filepath.Join(t.TempDir(), "upload"), Metrics: m})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = a
	cfg.Metrics = m
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s.Router()
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func expectCode(t *testing.T, rec *httptest.ResponseRecorder, want domain.Code) envelope {
	t.Helper()
	env := decodeResult(t, rec)
	if env.Code != want {
		t.Fatalf("code = %v (%s), want %v", env.Code, env.Message, want)
	}
	return env
}

func duneJSON() map[string]any {
	return map[string]any{"name": "Dune", "author": "Herbert", "brief": "sand", "imgIcon": "upload/1_abcdef.png", "price": 10}
}

func TestAccountFlow(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{})

	expectCode(t, do(t, h, http.MethodPost, "/api/user/register", map[string]string{"account": "alice", "password": "p1"}), domain.CodeOK)
	expectCode(t, do(t, h, http.MethodPost, "/api/user/register", map[string]string{"account": "alice", "password": "p1"}), domain.CodeAlreadyExists)
	expectCode(t, do(t, h, http.MethodPost, "/api/user/register", map[string]string{"account": "", "password": "p1"}), domain.CodeEmptyAccount)

	env := expectCode(t, do(t, h, http.MethodPost, "/api/user/login", map[string]string{"account": "alice", "password": "p1"}), domain.CodeOK)
	var acc domain.Account
	if err := json.Unmarshal(env.Data, &acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acc.Account != "alice" || acc.Password != "" {
		t.Fatalf("unexpected login data: %+v", acc)
	}
	expectCode(t, do(t, h, http.MethodPost, "/api/user/login", map[string]string{"account": "alice", "password": "p2"}), domain.CodeWrongPassword)
	expectCode(t, do(t, h, http.MethodPost, "/api/user/login", map[string]string{"account": "bob", "password": "x"}), domain.CodeAccountNotFound)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/book/add", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestCatalogFlowOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := store.NewRedisKV(store.RedisKVConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new redis kv: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	h := newTestServer(t, kv, Config{})

	expectCode(t, do(t, h, http.MethodPost, "/api/book/add", duneJSON()), domain.CodeOK)
	expectCode(t, do(t, h, http.MethodPost, "/api/book/add", duneJSON()), domain.CodeAlreadyExists)

	bad := duneJSON()
	bad["price"] = 0
	bad["name"] = "Other"
	expectCode(t, do(t, h, http.MethodPost, "/api/book/add", bad), domain.CodeBadPrice)

	env := expectCode(t, do(t, h, http.MethodGet, "/api/book/search/Dun?account=alice", nil), domain.CodeOK)
	var books []domain.Book
	if err := json.Unmarshal(env.Data, &books); err != nil {
		t.Fatalf("decode books: %v", err)
	}
	if len(books) != 1 || books[0].Name != "Dune" || books[0].Price != 10 {
		t.Fatalf("unexpected search result %+v", books)
	}

	env = expectCode(t, do(t, h, http.MethodGet, "/api/history/alice", nil), domain.CodeOK)
	if string(env.Data) != `["Dun"]` {
		t.Fatalf("history = %s, want [\"Dun\"]", env.Data)
	}

	expectCode(t, do(t, h, http.MethodGet, "/api/book/Dune/Herbert", nil), domain.CodeOK)
	if rec := do(t, h, http.MethodGet, "/api/book/Dune/Nobody", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	if got := mr.HGet("Books", "Dune:Herbert"); got == "" {
		t.Fatalf("expected book stored under Books/Dune:Herbert")
	}
}

func TestHistoryFlow(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{})

	expectCode(t, do(t, h, http.MethodPost, "/api/history/alice", map[string]string{"term": "rust"}), domain.CodeOK)
	expectCode(t, do(t, h, http.MethodPost, "/api/history/alice", map[string]string{"term": "rust"}), domain.CodeOK)
	expectCode(t, do(t, h, http.MethodPost, "/api/history/alice", map[string]string{"term": ""}), domain.CodeEmptyKeyword)

	env := expectCode(t, do(t, h, http.MethodGet, "/api/history/alice", nil), domain.CodeOK)
	if string(env.Data) != `["rust"]` {
		t.Fatalf("history = %s", env.Data)
	}

	expectCode(t, do(t, h, http.MethodDelete, "/api/history/alice", nil), domain.CodeOK)
	env = expectCode(t, do(t, h, http.MethodGet, "/api/history/alice", nil), domain.CodeOK)
	if string(env.Data) != `[]` {
		t.Fatalf("history after clear = %s", env.Data)
	}
	env = expectCode(t, do(t, h, http.MethodDelete, "/api/history/alice", nil), domain.CodeStoreError)
	if env.Message != "nothing to clear" {
		t.Fatalf("message = %q", env.Message)
	}
}

func TestCartFlow(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{})
	expectCode(t, do(t, h, http.MethodPost, "/api/book/add", duneJSON()), domain.CodeOK)

	expectCode(t, do(t, h, http.MethodPost, "/api/shop/alice", map[string]any{"name": "Dune", "author": "Herbert", "rating": 5}), domain.CodeOK)
	expectCode(t, do(t, h, http.MethodPost, "/api/shop/alice", map[string]any{"name": "Ghost", "author": "Nobody", "rating": 1}), domain.CodeOK)

	env := expectCode(t, do(t, h, http.MethodGet, "/api/shop/alice", nil), domain.CodeOK)
	var items []domain.CartItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(items) != 1 || items[0].Book.Name != "Dune" || items[0].Rating != 5 {
		t.Fatalf("unexpected cart %+v", items)
	}

	expectCode(t, do(t, h, http.MethodDelete, "/api/shop/alice/Dune/Herbert", nil), domain.CodeOK)
	env = expectCode(t, do(t, h, http.MethodGet, "/api/shop/alice", nil), domain.CodeOK)
	if string(env.Data) != `[]` {
		t.Fatalf("cart after remove = %s", env.Data)
	}
}

func TestEscapedPathParams(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{})
	book := duneJSON()
	book["name"] = "Dune: Messiah"
	expectCode(t, do(t, h, http.MethodPost, "/api/book/add", book), domain.CodeOK)
	expectCode(t, do(t, h, http.MethodGet, "/api/book/Dune%3A%20Messiah/Herbert", nil), domain.CodeOK)
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/book/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadAndServeCover(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "file", "cover.png", "png-bytes"))
	env := expectCode(t, rec, domain.CodeOK)
	var stored string
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		t.Fatalf("decode stored path: %v", err)
	}
	if !strings.HasPrefix(stored, "upload/") {
		t.Fatalf("stored = %q", stored)
	}

	rec = do(t, h, http.MethodGet, "/"+stored, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "png-bytes" {
		t.Fatalf("serve cover: status %d body %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/upload/missing.png", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing cover status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "file", "notes.txt", "x"))
	expectCode(t, rec, domain.CodeBadFormat)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "image", "cover.png", "x"))
	expectCode(t, rec, domain.CodeMissingFile)
}

func TestUploadTooLarge(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{MaxUploadBytes: 64})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "file", "cover.png", strings.Repeat("x", 1024)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	limiter, err := ratelimit.NewLocalLimiter(2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	h := newTestServer(t, store.NewMemoryKV(), Config{LoginLimiter: limiter})

	creds := map[string]string{"account": "bob", "password": "x"}
	for i := 0; i < 2; i++ {
		expectCode(t, do(t, h, http.MethodPost, "/api/user/login", creds), domain.CodeAccountNotFound)
	}
	rec := do(t, h, http.MethodPost, "/api/user/login", creds)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	expectCode(t, do(t, h, http.MethodPost, "/api/user/register", creds), domain.CodeOK)
}

func TestHealthAndMetrics(t *testing.T) {
	kv := store.NewMemoryKV()
	h := newTestServer(t, kv, Config{})

	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	do(t, h, http.MethodGet, "/api/history/alice", nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `reader_operations_total{component="history",operation="list",result="ok"} 1`) {
		t.Fatalf("metrics missing history counter:\n%s", rec.Body.String())
	}

	_ = kv.Close()
	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz after close = %d, want 503", rec.Code)
	}
}

func TestCoverRejectsTraversal(t *testing.T) {
	h := newTestServer(t, store.NewMemoryKV(), Config{})
	for _, target := range []string{"/upload/..%2Fconfig.yaml", "/upload/..", "/upload/a%5Cb.png"} {
		if rec := do(t, h, http.MethodGet, target, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", target, rec.Code)
		}
	}
}
