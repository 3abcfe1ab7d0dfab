package seed

import (
	"reflect"
	"testing"
	"time"
)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	fixedNow := time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)

	g1 := NewGenerator(42, 10, 5)
	g2 := NewGenerator(42, 10, 5)
	g1.now = func() time.Time { return fixedNow }
	g2.now = func() time.Time { return fixedNow }

	for i := 0; i < 5; i++ {
		p1, p2 := g1.NextProduct(), g2.NextProduct()
		if !reflect.DeepEqual(p1, p2) {
			t.Fatalf("product %d differs: %#v vs %#v", i, p1, p2)
		}
	}
	for i := 0; i < 5; i++ {
		c1, c2 := g1.NextCustomer(), g2.NextCustomer()
		if !reflect.DeepEqual(c1, c2) {
			t.Fatalf("customer %d differs: %#v vs %#v", i, c1, c2)
		}
	}
	for i := 0; i < 5; i++ {
		o1, o2 := g1.NextOrder(), g2.NextOrder()
		if !reflect.DeepEqual(o1, o2) {
			t.Fatalf("order %d differs: %#v vs %#v", i, o1, o2)
		}
	}
}

func TestGeneratorAssignsSequentialIDs(t *testing.T) {
	g := NewGenerator(99, 5, 5)
	g.now = func() time.Time { return time.Unix(0, 0).UTC() }

	for i := 1; i <= 10; i++ {
		if got := g.NextOrder().ID; got != int64(i) {
			t.Fatalf("order id = %d, want %d", got, i)
		}
	}
	if got := g.NextProduct().ID; got != 1 {
		t.Fatalf("product id = %d, want 1", got)
	}
	if got := g.NextCustomer().ID; got != 1 {
		t.Fatalf("customer id = %d, want 1", got)
	}
}

func TestGeneratorOrdersStayInRange(t *testing.T) {
	validStatus := map[string]bool{
		"pending": true, "paid": true, "shipped": true, "delivered": true, "cancelled": true,
	}

	g := NewGenerator(3, 4, 2)
	g.now = func() time.Time { return time.Unix(0, 0).UTC() }

	for i := 0; i < 100; i++ {
		o := g.NextOrder()
		if o.CustomerID < 1 || o.CustomerID > 4 {
			t.Fatalf("customer_id = %d, want 1..4", o.CustomerID)
		}
		if o.ProductID < 1 || o.ProductID > 2 {
			t.Fatalf("product_id = %d, want 1..2", o.ProductID)
		}
		if o.Quantity < 1 || o.Quantity > 3 {
			t.Fatalf("quantity = %d, want 1..3", o.Quantity)
		}
		if o.Amount <= 0 {
			t.Fatalf("amount = %f, want > 0", o.Amount)
		}
		if !validStatus[o.Status] {
			t.Fatalf("status = %q", o.Status)
		}
	}
}
