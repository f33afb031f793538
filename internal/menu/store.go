package menu

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL-backed Repository. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

// NewStore connects to the database at dsn and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("menu store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("menu store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("menu store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("menu store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LookupTable implements Repository.
func (s *Store) LookupTable(ctx context.Context, qrToken string) (Table, error) {
	const q = `
		SELECT id, restaurant_id, table_number, qr_token, is_active
		FROM   tables
		WHERE  qr_token = $1`

	var t Table
	err := s.pool.QueryRow(ctx, q, qrToken).Scan(
		&t.ID, &t.RestaurantID, &t.Number, &t.QRToken, &t.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Table{}, ErrUnknownTable
	}
	if err != nil {
		return Table{}, fmt.Errorf("menu store: lookup table: %w", err)
	}
	if !t.IsActive {
		return Table{}, ErrUnknownTable
	}
	return t, nil
}

// GetMenu implements Repository. Allergen names are aggregated per product so
// the prompt can warn about them.
func (s *Store) GetMenu(ctx context.Context, restaurantID int64) ([]Product, error) {
	const q = `
		SELECT p.id, p.name, COALESCE(p.description, ''), p.price,
		       COALESCE(p.category, ''), COALESCE(p.image_url, ''), p.is_available,
		       COALESCE(array_agg(a.name) FILTER (WHERE a.name IS NOT NULL), '{}')
		FROM   products p
		LEFT JOIN product_allergens pa ON pa.product_id = p.id
		LEFT JOIN allergens a          ON a.id = pa.allergen_id
		WHERE  p.restaurant_id = $1
		  AND  p.is_available
		GROUP  BY p.id
		ORDER  BY p.category, p.name`

	rows, err := s.pool.Query(ctx, q, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("menu store: get menu: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price,
			&p.Category, &p.ImageURL, &p.IsAvailable, &p.Allergens); err != nil {
			return nil, fmt.Errorf("menu store: scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("menu store: get menu rows: %w", err)
	}
	return products, nil
}

// PlaceOrder implements Repository. The order and its item are written in one
// transaction so a failure leaves nothing behind.
func (s *Store) PlaceOrder(ctx context.Context, table Table, productID int64, quantity int) (Order, error) {
	if quantity < 1 {
		quantity = 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("menu store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var price float64
	err = tx.QueryRow(ctx,
		`SELECT price FROM products WHERE id = $1 AND restaurant_id = $2 AND is_available`,
		productID, table.RestaurantID,
	).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrUnknownProduct
	}
	if err != nil {
		return Order{}, fmt.Errorf("menu store: product price: %w", err)
	}

	total := price * float64(quantity)
	var o Order
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (restaurant_id, table_id, status, total_price)
		VALUES ($1, $2, 'preparing', $3)
		RETURNING id, created_at`,
		table.RestaurantID, table.ID, total,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("menu store: insert order: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)`,
		o.ID, productID, quantity, price,
	); err != nil {
		return Order{}, fmt.Errorf("menu store: insert item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("menu store: commit: %w", err)
	}

	o.TableID = table.ID
	o.Status = "preparing"
	o.Total = total
	o.Items = []OrderItem{{ProductID: productID, Quantity: quantity, Price: price}}
	return o, nil
}

// RequestCheck implements Repository.
func (s *Store) RequestCheck(ctx context.Context, tableID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tables
		SET    check_requested = TRUE, check_requested_at = now()
		WHERE  id = $1`,
		tableID,
	)
	if err != nil {
		return fmt.Errorf("menu store: request check: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownTable
	}
	return nil
}
