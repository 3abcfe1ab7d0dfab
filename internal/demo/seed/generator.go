package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Product struct {
	ID       int64
	Name     string
	Category string
	Price    float64
}

type Customer struct {
	ID         int64
	Name       string
	City       string
	SignedUpAt time.Time
}

type Order struct {
	ID         int64
	CustomerID int64
	ProductID  int64
	Status     string
	Quantity   int
	Amount     float64
	PlacedAt   time.Time
}

var (
	productAdjectives = []string{"Aurora", "Cedar", "Nimbus", "Granite", "Willow", "Copper", "Juniper", "Atlas"}
	productNouns      = []string{"Lamp", "Desk", "Chair", "Bottle", "Notebook", "Backpack", "Kettle", "Headphones"}
	firstNames        = []string{"Ada", "Bruno", "Carla", "Dmitri", "Elena", "Felix", "Greta", "Hugo", "Ines", "Jonas"}
	lastNames         = []string{"Alder", "Berg", "Castillo", "Duval", "Eriksen", "Fontaine", "Garcia", "Hoffmann"}
	cities            = []string{"Berlin", "Lisbon", "Austin", "Osaka", "Toronto", "Nairobi", "Oslo", "Medellin"}
)

// Generator emits pseudo-random demo rows. The same seed produces the same
// rows, so reseeded environments stay comparable. Orders reference customer
// and product IDs by cardinality, which keeps references valid as long as
// those rows are inserted first.
type Generator struct {
	rnd         *rand.Rand
	customers   int
	products    int
	productSeq  int64
	customerSeq int64
	orderSeq    int64
	now         func() time.Time
}

func NewGenerator(seed int64, customers, products int) *Generator {
	return &Generator{
		rnd:       rand.New(rand.NewSource(seed)),
		customers: customers,
		products:  products,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) NextProduct() Product {
	g.productSeq++
	category := g.pickCategory()
	return Product{
		ID:       g.productSeq,
		Name:     fmt.Sprintf("%s %s", pickOne(g.rnd, productAdjectives), pickOne(g.rnd, productNouns)),
		Category: category,
		Price:    g.pickPrice(category),
	}
}

func (g *Generator) NextCustomer() Customer {
	g.customerSeq++
	return Customer{
		ID:         g.customerSeq,
		Name:       fmt.Sprintf("%s %s", pickOne(g.rnd, firstNames), pickOne(g.rnd, lastNames)),
		City:       pickOne(g.rnd, cities),
		SignedUpAt: g.now().Add(-time.Duration(g.rnd.Intn(365*24)) * time.Hour),
	}
}

func (g *Generator) NextOrder() Order {
	g.orderSeq++
	quantity := g.rnd.Intn(3) + 1
	return Order{
		ID:         g.orderSeq,
		CustomerID: int64(g.rnd.Intn(g.customers) + 1),
		ProductID:  int64(g.rnd.Intn(g.products) + 1),
		Status:     g.pickStatus(),
		Quantity:   quantity,
		Amount:     round2(float64(quantity) * (8 + g.rnd.Float64()*192)),
		PlacedAt:   g.now().Add(-time.Duration(g.rnd.Intn(90*24)) * time.Hour),
	}
}

func (g *Generator) pickCategory() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 35:
		return "home"
	case p < 60:
		return "office"
	case p < 80:
		return "outdoor"
	default:
		return "electronics"
	}
}

func (g *Generator) pickPrice(category string) float64 {
	switch category {
	case "electronics":
		return round2(40 + g.rnd.Float64()*360)
	case "outdoor":
		return round2(25 + g.rnd.Float64()*175)
	default:
		return round2(8 + g.rnd.Float64()*92)
	}
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 40:
		return "delivered"
	case p < 65:
		return "shipped"
	case p < 85:
		return "paid"
	case p < 95:
		return "pending"
	default:
		return "cancelled"
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
