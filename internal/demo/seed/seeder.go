// Package seed populates a demo retail schema, giving the chat service
// tables worth asking questions about.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// DDL sticks to types both supported drivers accept.
const (
	createProductsSQL = `CREATE TABLE IF NOT EXISTS products (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	price NUMERIC(10,2) NOT NULL
)`

	createCustomersSQL = `CREATE TABLE IF NOT EXISTS customers (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	city TEXT NOT NULL,
	signed_up_at TIMESTAMP NOT NULL
)`

	createOrdersSQL = `CREATE TABLE IF NOT EXISTS orders (
	id BIGINT PRIMARY KEY,
	customer_id BIGINT NOT NULL,
	product_id BIGINT NOT NULL,
	status TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	amount NUMERIC(10,2) NOT NULL,
	placed_at TIMESTAMP NOT NULL
)`

	insertProductSQL  = `INSERT INTO products (id, name, category, price) VALUES ($1, $2, $3, $4)`
	insertCustomerSQL = `INSERT INTO customers (id, name, city, signed_up_at) VALUES ($1, $2, $3, $4)`
	insertOrderSQL    = `INSERT INTO orders (id, customer_id, product_id, status, quantity, amount, placed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

type Seeder struct {
	cfg Config
	db  *sql.DB
	log *slog.Logger
	gen *Generator
}

func NewSeeder(cfg Config, db *sql.DB, logger *slog.Logger) (*Seeder, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if cfg.Products <= 0 || cfg.Customers <= 0 || cfg.Orders <= 0 {
		return nil, fmt.Errorf("row counts must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Seeder{
		cfg: cfg,
		db:  db,
		log: logger,
		gen: NewGenerator(cfg.Seed, cfg.Customers, cfg.Products),
	}, nil
}

// Run creates the demo tables when configured to, clears previous rows when
// Reset is set, and inserts the generated data one transaction per table.
// Rerunning against populated tables without Reset fails on primary key
// conflicts.
func (s *Seeder) Run(ctx context.Context) error {
	if s.cfg.CreateTables {
		if err := s.createTables(ctx); err != nil {
			return err
		}
	}
	if s.cfg.Reset {
		if err := s.clearTables(ctx); err != nil {
			return err
		}
	}

	if err := s.seedProducts(ctx); err != nil {
		return err
	}
	if err := s.seedCustomers(ctx); err != nil {
		return err
	}
	if err := s.seedOrders(ctx); err != nil {
		return err
	}

	s.log.Info(
		"demo data seeded",
		slog.Int("products", s.cfg.Products),
		slog.Int("customers", s.cfg.Customers),
		slog.Int("orders", s.cfg.Orders),
		slog.Int64("seed", s.cfg.Seed),
	)
	return nil
}

func (s *Seeder) createTables(ctx context.Context) error {
	for _, ddl := range []string{createProductsSQL, createCustomersSQL, createOrdersSQL} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create demo table: %w", err)
		}
	}
	s.log.Info("demo tables ready")
	return nil
}

func (s *Seeder) clearTables(ctx context.Context) error {
	for _, table := range []string{"orders", "customers", "products"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear table %s: %w", table, err)
		}
	}
	s.log.Info("cleared previous demo rows")
	return nil
}

func (s *Seeder) seedProducts(ctx context.Context) error {
	return s.insertRows(ctx, "products", insertProductSQL, s.cfg.Products, func() []any {
		p := s.gen.NextProduct()
		return []any{p.ID, p.Name, p.Category, p.Price}
	})
}

func (s *Seeder) seedCustomers(ctx context.Context) error {
	return s.insertRows(ctx, "customers", insertCustomerSQL, s.cfg.Customers, func() []any {
		c := s.gen.NextCustomer()
		return []any{c.ID, c.Name, c.City, c.SignedUpAt}
	})
}

func (s *Seeder) seedOrders(ctx context.Context) error {
	return s.insertRows(ctx, "orders", insertOrderSQL, s.cfg.Orders, func() []any {
		o := s.gen.NextOrder()
		return []any{o.ID, o.CustomerID, o.ProductID, o.Status, o.Quantity, o.Amount, o.PlacedAt}
	})
}

func (s *Seeder) insertRows(ctx context.Context, table, query string, count int, next func() []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i < count; i++ {
		if _, err := tx.ExecContext(ctx, query, next()...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s inserts: %w", table, err)
	}
	return nil
}
