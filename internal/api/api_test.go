package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/importer"
	"github.com/BTreeMap/ShopPipe/internal/metrics"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/orders"
	"github.com/BTreeMap/ShopPipe/internal/store"
	"github.com/BTreeMap/ShopPipe/internal/store/redisstore"
	"github.com/BTreeMap/ShopPipe/internal/testutil"
)

const testSecret = "test-secret"

type testEnv struct {
	server *Server
	store  *store.InMemoryStore
	token  string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewInMemoryStore()
	cat := catalog.New(st)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	base := []Option{WithJWTSecret(testSecret), WithAdmin("admin", string(hash))}
	srv, err := NewServer(cat, orders.NewService(st, cat), importer.New(st, cat), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	token, err := SignToken([]byte(testSecret), "admin", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	return &testEnv{server: srv, store: st, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var payload interface{}
	if body != "" {
		payload = body
	}
	req := testutil.JSONRequest(t, method, path, payload, e.token)
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	var resp models.APIResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	return rr, resp
}

func TestNewServer_RequiresSecret(t *testing.T) {
	if _, err := NewServer(nil, nil, nil); err == nil {
		t.Error("expected error without JWT secret")
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	rr, _ := env.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Error("missing request ID header")
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	t.Run("token issued for valid credentials", func(t *testing.T) {
		rr, resp := env.do(t, http.MethodPost, "/api/v1/auth/token", `{"username":"admin","password":"s3cret"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
		}
		result, _ := resp.Result.(map[string]interface{})
		tok, _ := result["token"].(string)
		if sub, err := ParseToken([]byte(testSecret), tok); err != nil || sub != "admin" {
			t.Errorf("ParseToken = %q, %v", sub, err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodPost, "/api/v1/auth/token", `{"username":"admin","password":"nope"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rr.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		saved := env.token
		env.token = ""
		defer func() { env.token = saved }()
		rr, resp := env.do(t, http.MethodGet, "/api/v1/products", "")
		if rr.Code != http.StatusUnauthorized || resp.Status != string(models.APIStatusError) {
			t.Errorf("status = %d resp=%+v", rr.Code, resp)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		saved := env.token
		env.token, _ = SignToken([]byte(testSecret), "admin", time.Minute, time.Now().Add(-time.Hour))
		defer func() { env.token = saved }()
		rr, _ := env.do(t, http.MethodGet, "/api/v1/products", "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rr.Code)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if _, err := ParseToken([]byte("other"), env.token); err == nil {
			t.Error("token accepted with wrong secret")
		}
	})
}

func TestAuth_TokenExpiryFollowsClock(t *testing.T) {
	issued := time.Now().Add(-2 * TokenTTL)
	env := newTestEnv(t, WithClock(func() time.Time { return issued }))

	rr, resp := env.do(t, http.MethodPost, "/api/v1/auth/token", `{"username":"admin","password":"s3cret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	result, _ := resp.Result.(map[string]interface{})
	tok, _ := result["token"].(string)
	if _, err := ParseToken([]byte(testSecret), tok); err == nil {
		t.Error("token issued two TTLs ago was accepted")
	}
}

func TestProductLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr, resp := env.do(t, http.MethodPost, "/api/v1/products", `{"name":"Caneta Azul","price_cents":250,"code":"CAN01"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}
	created, _ := resp.Result.(map[string]interface{})
	if created["unit"] != models.DefaultUnit || created["active"] != true {
		t.Errorf("created = %+v", created)
	}

	rr, _ = env.do(t, http.MethodPost, "/api/v1/products", `{"name":" ","price_cents":250}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d", rr.Code)
	}
	rr, _ = env.do(t, http.MethodPost, "/api/v1/products", `{"name":"X","price_cents":-1}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative price status = %d", rr.Code)
	}

	rr, _ = env.do(t, http.MethodPut, "/api/v1/products/1", `{"name":"Caneta Azul","price_cents":300}`)
	if rr.Code != http.StatusOK {
		t.Errorf("update status = %d body=%s", rr.Code, rr.Body.String())
	}
	if p, _ := env.store.GetProduct(1); p == nil || p.Price != 300 {
		t.Errorf("stored product = %+v", p)
	}
	rr, _ = env.do(t, http.MethodPut, "/api/v1/products/99", `{"name":"Ghost","price_cents":1}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d", rr.Code)
	}
	rr, _ = env.do(t, http.MethodPut, "/api/v1/products/abc", `{"name":"X"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rr.Code)
	}

	rr, _ = env.do(t, http.MethodDelete, "/api/v1/products/1", "")
	if rr.Code != http.StatusOK {
		t.Errorf("delete status = %d", rr.Code)
	}
	rr, resp = env.do(t, http.MethodGet, "/api/v1/products", "")
	list, _ := resp.Result.([]interface{})
	if rr.Code != http.StatusOK || len(list) != 0 {
		t.Errorf("list after delete = %d %v", rr.Code, resp.Result)
	}
}

func TestOrders(t *testing.T) {
	env := newTestEnv(t)
	id := testutil.SeedProducts(t, env.store, models.Product{Name: "Caderno", Price: 1899, Active: true})[0]

	rr, resp := env.do(t, http.MethodPost, "/api/v1/orders",
		`{"phoneNumber":"5511999999999","address":"Rua das Flores, 123","items":[{"productId":`+itoa(id)+`,"quantity":2}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}
	order, _ := resp.Result.(map[string]interface{})
	orderID, _ := order["id"].(string)
	if order["total_cents"] != float64(3798) || order["status"] != string(models.OrderStatusPending) {
		t.Errorf("order = %+v", order)
	}

	rr, _ = env.do(t, http.MethodPost, "/api/v1/orders", `{"phoneNumber":"55","items":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty order status = %d", rr.Code)
	}
	rr, _ = env.do(t, http.MethodPost, "/api/v1/orders", `{"phoneNumber":"55","items":[{"productId":404,"quantity":1}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown product status = %d", rr.Code)
	}

	rr, _ = env.do(t, http.MethodGet, "/api/v1/orders/"+orderID, "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get order")
	var got models.Order
	testutil.MustUnmarshalJSON(t, testutil.DecodeEnvelope(t, rr, models.APIStatusOK).Result, &got)
	if got.ID != orderID || len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Errorf("order = %+v", got)
	}
	rr, _ = env.do(t, http.MethodGet, "/api/v1/orders/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d", rr.Code)
	}

	rr, _ = env.do(t, http.MethodPatch, "/api/v1/orders/"+orderID+"/status", `{"status":"confirmed"}`)
	if rr.Code != http.StatusOK {
		t.Errorf("patch status = %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = env.do(t, http.MethodPatch, "/api/v1/orders/"+orderID+"/status", `{"status":"shipped"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid status code = %d", rr.Code)
	}

	rr, resp = env.do(t, http.MethodGet, "/api/v1/orders", "")
	list, _ := resp.Result.([]interface{})
	if rr.Code != http.StatusOK || len(list) != 1 {
		t.Errorf("list = %d %v", rr.Code, resp.Result)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func multipartRequest(t *testing.T, field, filename, content, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte(content))
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestImportProducts(t *testing.T) {
	env := newTestEnv(t)
	xml := `<produtos><produto><nome>Caneta Azul</nome><preco>2,50</preco><quantidade>10</quantidade></produto></produtos>`

	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, multipartRequest(t, "file", "catalogo.xml", xml, env.token))
	if rr.Code != http.StatusOK {
		t.Fatalf("import status = %d body=%s", rr.Code, rr.Body.String())
	}
	products, _ := env.store.ListActiveProducts()
	if len(products) != 1 || products[0].Price != 250 {
		t.Errorf("products = %+v", products)
	}

	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, multipartRequest(t, "pdf", "catalogo.xml", xml, env.token))
	if rr.Code != http.StatusOK {
		t.Errorf("legacy field status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, multipartRequest(t, "file", "catalogo.csv", "a,b", env.token))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("csv status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, multipartRequest(t, "other", "catalogo.xml", xml, env.token))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing field status = %d", rr.Code)
	}
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Allow(ctx context.Context, client string, limit int, window time.Duration) (bool, time.Duration, error) {
	l.calls++
	return l.calls <= limit, window, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{}
	env := newTestEnv(t, WithRateLimiter(lim, 2, time.Minute))
	for i := 0; i < 2; i++ {
		if rr, _ := env.do(t, http.MethodGet, "/api/v1/products", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}
	rr, _ := env.do(t, http.MethodGet, "/api/v1/products", "")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Errorf("third request = %d retry=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
}

func TestRateLimit_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rds := redisstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	env := newTestEnv(t, WithRateLimiter(rds, 1, time.Minute))

	if rr, _ := env.do(t, http.MethodGet, "/api/v1/products", ""); rr.Code != http.StatusOK {
		t.Fatalf("first request = %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodGet, "/api/v1/products", ""); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d", rr.Code)
	}
}

func TestMetricsAndWebhookRoutes(t *testing.T) {
	var hooked bool
	env := newTestEnv(t,
		WithMetrics(metrics.New()),
		WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) { hooked = true }),
	)
	env.token = ""
	if rr, _ := env.do(t, http.MethodPost, "/webhooks/twilio", ""); rr.Code != http.StatusOK || !hooked {
		t.Errorf("webhook = %d hooked=%v", rr.Code, hooked)
	}
	rr, _ := env.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "http_request_duration_seconds") {
		t.Errorf("metrics = %d", rr.Code)
	}
}

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t)
	rr, resp := env.do(t, http.MethodGet, "/nope", "")
	if rr.Code != http.StatusNotFound || resp.Status != string(models.APIStatusError) {
		t.Errorf("no route = %d %+v", rr.Code, resp)
	}
}
