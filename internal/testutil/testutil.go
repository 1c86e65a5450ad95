// Package testutil holds helpers shared by ShopPipe's package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// DefaultProducts is the small catalog most chat tests start from.
var DefaultProducts = []models.Product{
	{Code: "CAN01", Name: "Caneta Azul", Price: 250, Unit: "UNID", Stock: 10, Active: true},
	{Name: "Caderno Universitário", Price: 1899, Unit: "UNID", Stock: 5, Active: true},
}

// SeedProducts stores products (DefaultProducts when none are given) and
// returns their IDs in order.
func SeedProducts(t testing.TB, repo store.ProductRepo, products ...models.Product) []int64 {
	t.Helper()
	if len(products) == 0 {
		products = DefaultProducts
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		id, err := repo.CreateProduct(p)
		if err != nil {
			t.Fatalf("seed product %q: %v", p.Name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

// JSONRequest builds a request with body marshaled as JSON. A non-empty
// token is sent as a Bearer credential.
func JSONRequest(t testing.TB, method, url string, body interface{}, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// AssertHTTPStatus fails the test when actual differs from expected.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeEnvelope decodes the API envelope and checks its status field.
func DecodeEnvelope(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != string(expectedStatus) {
		t.Errorf("expected envelope status %q, got %q (message %q)", expectedStatus, resp.Status, resp.Message)
	}
	return resp
}

// MustUnmarshalJSON re-decodes v (typically an envelope result) into target.
func MustUnmarshalJSON(t testing.TB, v interface{}, target interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
}
