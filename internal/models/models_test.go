package models

import "testing"

func TestCartAddItem_TotalInvariant(t *testing.T) {
	pen := Product{ID: 1, Name: "Caneta Azul", Price: 250}
	notebook := Product{ID: 2, Name: "Caderno", Price: 1899}
	eraser := Product{ID: 3, Name: "Borracha", Price: 75}

	steps := []struct {
		product Product
		qty     int
	}{
		{pen, 1},
		{notebook, 2},
		{pen, 3},
		{eraser, 1},
		{notebook, 1},
	}

	var c Cart
	for i, step := range steps {
		c.AddItem(step.product, step.qty)

		var want int64
		for _, item := range c.Items {
			want += item.UnitPrice * int64(item.Quantity)
		}
		if c.Total != want {
			t.Fatalf("step %d: total = %d, want %d", i, c.Total, want)
		}
	}

	if len(c.Items) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(c.Items))
	}
	if c.Total != 4*250+3*1899+75 {
		t.Errorf("unexpected final total %d", c.Total)
	}
}

func TestCartAddItem_SameProductIncrementsQuantity(t *testing.T) {
	p := Product{ID: 7, Name: "Lápis", Price: 120}
	var c Cart
	c.AddItem(p, 1)
	c.AddItem(p, 1)

	if len(c.Items) != 1 {
		t.Fatalf("expected one line item, got %d", len(c.Items))
	}
	if c.Items[0].Quantity != 2 {
		t.Errorf("expected quantity 2, got %d", c.Items[0].Quantity)
	}
	if c.Total != 240 {
		t.Errorf("expected total 240, got %d", c.Total)
	}
}

func TestCartAddItem_SnapshotsPrice(t *testing.T) {
	p := Product{ID: 1, Name: "Caneta", Price: 200}
	var c Cart
	c.AddItem(p, 1)

	p.Price = 999
	c.AddItem(p, 1)

	if c.Items[0].UnitPrice != 200 {
		t.Errorf("price snapshot changed to %d", c.Items[0].UnitPrice)
	}
	if c.Total != 400 {
		t.Errorf("expected total 400, got %d", c.Total)
	}
}

func TestCartAddItem_NonPositiveQuantityAddsOne(t *testing.T) {
	var c Cart
	c.AddItem(Product{ID: 1, Price: 100}, 0)
	if c.Items[0].Quantity != 1 {
		t.Errorf("expected quantity 1, got %d", c.Items[0].Quantity)
	}
}

func TestFormatBRL(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "R$ 0,00"},
		{5, "R$ 0,05"},
		{1250, "R$ 12,50"},
		{123456, "R$ 1234,56"},
		{-300, "-R$ 3,00"},
	}
	for _, tt := range tests {
		if got := FormatBRL(tt.cents); got != tt.want {
			t.Errorf("FormatBRL(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestIsValidOrderStatus(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled, OrderStatusCompleted} {
		if !IsValidOrderStatus(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	if IsValidOrderStatus("shipped") {
		t.Error("unknown status accepted")
	}
}
