package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

func TestSeedProducts(t *testing.T) {
	st := store.NewInMemoryStore()
	ids := SeedProducts(t, st)
	if len(ids) != len(DefaultProducts) {
		t.Fatalf("got %d ids", len(ids))
	}
	active, err := st.ListActiveProducts()
	if err != nil || len(active) != 2 || active[0].Name != "Caneta Azul" {
		t.Errorf("ListActiveProducts = %+v, %v", active, err)
	}

	more := SeedProducts(t, st, models.Product{Name: "Borracha", Price: 75, Active: true})
	if len(more) != 1 || more[0] <= ids[1] {
		t.Errorf("ids = %v after %v", more, ids)
	}
}

func TestJSONRequest(t *testing.T) {
	req := JSONRequest(t, http.MethodPost, "/api/v1/products", map[string]int{"price_cents": 10}, "tok")
	if req.Header.Get("Authorization") != "Bearer tok" || req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("headers = %v", req.Header)
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != "{\"price_cents\":10}\n" {
		t.Errorf("body = %q", body)
	}

	raw := JSONRequest(t, http.MethodPost, "/x", `{"a":1}`, "")
	body, _ = io.ReadAll(raw.Body)
	if string(body) != `{"a":1}` || raw.Header.Get("Authorization") != "" {
		t.Errorf("raw body = %q", body)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"id":7,"name":"Caneta"}}`)
	resp := DecodeEnvelope(t, rr, models.APIStatusOK)

	var p models.Product
	MustUnmarshalJSON(t, resp.Result, &p)
	if p.ID != 7 || p.Name != "Caneta" {
		t.Errorf("product = %+v", p)
	}
}
