package menu

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTables = `
CREATE TABLE IF NOT EXISTS restaurants (
    id              BIGSERIAL   PRIMARY KEY,
    name            TEXT        NOT NULL,
    email           TEXT        NOT NULL UNIQUE,
    hashed_password TEXT        NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tables (
    id                 BIGSERIAL   PRIMARY KEY,
    restaurant_id      BIGINT      NOT NULL REFERENCES restaurants(id),
    table_number       INT         NOT NULL,
    qr_token           TEXT        NOT NULL UNIQUE,
    is_active          BOOLEAN     NOT NULL DEFAULT TRUE,
    check_requested    BOOLEAN     NOT NULL DEFAULT FALSE,
    check_requested_at TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tables_qr_token ON tables (qr_token);
`

const ddlProducts = `
CREATE TABLE IF NOT EXISTS products (
    id            BIGSERIAL   PRIMARY KEY,
    restaurant_id BIGINT      NOT NULL REFERENCES restaurants(id),
    name          TEXT        NOT NULL,
    description   TEXT,
    price         DOUBLE PRECISION NOT NULL,
    category      TEXT,
    image_url     TEXT,
    is_available  BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_products_restaurant ON products (restaurant_id);

CREATE TABLE IF NOT EXISTS allergens (
    id            BIGSERIAL   PRIMARY KEY,
    restaurant_id BIGINT      NOT NULL REFERENCES restaurants(id),
    name          TEXT        NOT NULL,
    icon          TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_allergens (
    product_id  BIGINT NOT NULL REFERENCES products(id)  ON DELETE CASCADE,
    allergen_id BIGINT NOT NULL REFERENCES allergens(id) ON DELETE CASCADE,
    PRIMARY KEY (product_id, allergen_id)
);
`

const ddlOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id            BIGSERIAL   PRIMARY KEY,
    restaurant_id BIGINT      NOT NULL REFERENCES restaurants(id),
    table_id      BIGINT      NOT NULL REFERENCES tables(id),
    status        TEXT        NOT NULL DEFAULT 'preparing',
    total_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_table ON orders (table_id);

CREATE TABLE IF NOT EXISTS order_items (
    id         BIGSERIAL PRIMARY KEY,
    order_id   BIGINT    NOT NULL REFERENCES orders(id),
    product_id BIGINT    NOT NULL REFERENCES products(id),
    quantity   INT       NOT NULL,
    price      DOUBLE PRECISION NOT NULL
);
`

// Migrate ensures all required tables and indexes exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlTables, ddlProducts, ddlOrders} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("menu migrate: %w", err)
		}
	}
	return nil
}
