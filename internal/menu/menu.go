// Package menu is the restaurant persistence layer: menu lookup for the
// prompt, order placement, and check requests, all backed by PostgreSQL.
package menu

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownTable is returned when a QR token resolves to no active table.
var ErrUnknownTable = errors.New("menu: unknown table")

// ErrUnknownProduct is returned when an order names a product that is not on
// the menu.
var ErrUnknownProduct = errors.New("menu: unknown product")

// Table identifies one physical restaurant table.
type Table struct {
	ID           int64
	RestaurantID int64
	Number       int
	QRToken      string
	IsActive     bool
}

// Product is one menu entry.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	Category    string
	ImageURL    string
	IsAvailable bool
	Allergens   []string
}

// OrderItem is one line of a placed order.
type OrderItem struct {
	ProductID int64
	Quantity  int
	Price     float64
}

// Order is a placed order with its computed total.
type Order struct {
	ID        int64
	TableID   int64
	Status    string
	Total     float64
	Items     []OrderItem
	CreatedAt time.Time
}

// Repository is what the gateway and bridge need from persistence.
type Repository interface {
	// LookupTable resolves a QR token to its table. Returns ErrUnknownTable
	// for missing or inactive tables.
	LookupTable(ctx context.Context, qrToken string) (Table, error)

	// GetMenu returns the available products of a restaurant.
	GetMenu(ctx context.Context, restaurantID int64) ([]Product, error)

	// PlaceOrder creates an order of quantity x product for the table.
	PlaceOrder(ctx context.Context, table Table, productID int64, quantity int) (Order, error)

	// RequestCheck flags the table as waiting for the check.
	RequestCheck(ctx context.Context, tableID int64) error
}
