package cart

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore() (*Store, *store.InMemoryStore, *clock) {
	repo := store.NewInMemoryStore()
	clk := &clock{t: time.Now()}
	return New(repo, WithClock(clk.now)), repo, clk
}

func TestCreateWelcomeAndLoad(t *testing.T) {
	s, _, _ := newTestStore()
	c, err := s.CreateWelcome("5511")
	if err != nil {
		t.Fatalf("CreateWelcome failed: %v", err)
	}
	if c.State != models.StateWelcome || !c.IsEmpty() {
		t.Errorf("unexpected new cart %+v", c)
	}
	loaded, err := s.Load("5511")
	if err != nil || loaded == nil {
		t.Fatalf("Load = %v, %v", loaded, err)
	}
	if none, _ := s.Load("5522"); none != nil {
		t.Error("Load returned a cart for an unknown user")
	}
}

func TestAddItem_IncrementsAndTotals(t *testing.T) {
	s, _, _ := newTestStore()
	c, _ := s.CreateWelcome("5511")
	pen := models.Product{ID: 1, Name: "Caneta", Price: 250}

	if err := s.AddItem(c, pen, 1); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := s.AddItem(c, pen, 1); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	loaded, _ := s.Load("5511")
	if len(loaded.Items) != 1 || loaded.Items[0].Quantity != 2 || loaded.Total != 500 {
		t.Errorf("unexpected cart after two adds: %+v", loaded)
	}
}

func TestSetStateAndAddress(t *testing.T) {
	s, _, _ := newTestStore()
	c, _ := s.CreateWelcome("5511")
	if err := s.SetState(c, models.StateAwaitingAddress); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if err := s.SetAddress(c, "  Rua das Flores, 123  "); err != nil {
		t.Fatalf("SetAddress failed: %v", err)
	}
	loaded, _ := s.Load("5511")
	if loaded.State != models.StateAwaitingAddress || loaded.Address != "Rua das Flores, 123" {
		t.Errorf("unexpected cart %+v", loaded)
	}
}

func TestLoad_ExpiresAfterTTL(t *testing.T) {
	s, repo, clk := newTestStore()
	s.CreateWelcome("5511")

	clk.t = clk.t.Add(23 * time.Hour)
	if c, _ := s.Load("5511"); c == nil {
		t.Fatal("cart expired before TTL")
	}

	clk.t = clk.t.Add(2 * time.Hour)
	if c, _ := s.Load("5511"); c != nil {
		t.Fatal("cart still present after TTL")
	}
	if raw, _ := repo.GetCart("5511"); raw != nil {
		t.Error("expired cart was not deleted")
	}
}

func TestRequireAndClear(t *testing.T) {
	s, _, _ := newTestStore()
	if _, err := s.Require("5511"); !errors.Is(err, ErrNoCart) {
		t.Errorf("Require on missing cart = %v, want ErrNoCart", err)
	}
	s.CreateWelcome("5511")
	if _, err := s.Require("5511"); err != nil {
		t.Errorf("Require = %v", err)
	}
	if err := s.Clear("5511"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if c, _ := s.Load("5511"); c != nil {
		t.Error("cart present after Clear")
	}
}

func TestSweepExpired(t *testing.T) {
	s, _, clk := newTestStore()
	s.CreateWelcome("a")
	s.CreateWelcome("b")

	if n, _ := s.SweepExpired(); n != 0 {
		t.Errorf("swept %d fresh carts", n)
	}
	clk.t = clk.t.Add(25 * time.Hour)
	n, err := s.SweepExpired()
	if err != nil || n != 2 {
		t.Errorf("SweepExpired = %d, %v; want 2", n, err)
	}
	if c, _ := s.Count(); c != 0 {
		t.Errorf("Count = %d after sweep", c)
	}
}
