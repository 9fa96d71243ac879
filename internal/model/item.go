// Package model defines data structures used throughout the application.
package model

import (
	"errors"
	"strings"
)

// Validation errors for collection items.
var (
	ErrEmptyProductID  = errors.New("productId cannot be empty")
	ErrEmptyName       = errors.New("name cannot be empty")
	ErrNameTooLong     = errors.New("name cannot exceed 255 characters")
	ErrNegativePrice   = errors.New("price cannot be negative")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// Validation constants.
const (
	MaxNameLength = 255
)

// Kind names a collection. It doubles as the local storage key and the URL segment
// of the remote collection resource.
type Kind string

// Collection kinds.
const (
	KindCart     Kind = "cart"
	KindWishlist Kind = "wishlist"
)

// Valid reports whether k is a known collection kind.
func (k Kind) Valid() bool {
	return k == KindCart || k == KindWishlist
}

// Title returns the display name used in notifications.
func (k Kind) Title() string {
	switch k {
	case KindCart:
		return "Cart"
	case KindWishlist:
		return "Wishlist"
	default:
		return string(k)
	}
}

// ProductInfo is the product data denormalized into a collection line when it is added.
// It is not re-fetched afterwards.
type ProductInfo struct {
	ProductID string   `json:"productId" yaml:"productId"`
	Name      string   `json:"name" yaml:"name"`
	Image     string   `json:"image,omitempty" yaml:"image,omitempty"`
	Price     float64  `json:"price" yaml:"price"`
	SalePrice *float64 `json:"salePrice,omitempty" yaml:"salePrice,omitempty"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty"`
	Type      string   `json:"type,omitempty" yaml:"type,omitempty"`
	Country   string   `json:"country,omitempty" yaml:"country,omitempty"`
	Brand     string   `json:"brand,omitempty" yaml:"brand,omitempty"`
	Varietal  string   `json:"varietal,omitempty" yaml:"varietal,omitempty"`
	Size      string   `json:"size,omitempty" yaml:"size,omitempty"`
	ABV       string   `json:"abv,omitempty" yaml:"abv,omitempty"`
}

// EffectivePrice returns the sale price when set, otherwise the list price.
func (p ProductInfo) EffectivePrice() float64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// DisplayName returns the name shown in notifications.
func (p ProductInfo) DisplayName() string {
	return p.Name
}

// Validate checks the fields shared by every collection line.
func (p ProductInfo) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return ErrEmptyProductID
	}

	if p.Name == "" {
		return ErrEmptyName
	}

	if len(p.Name) > MaxNameLength {
		return ErrNameTooLong
	}

	if p.Price < 0 || (p.SalePrice != nil && *p.SalePrice < 0) {
		return ErrNegativePrice
	}

	return nil
}

// Product is a catalog record as supplied by the catalog service at add time.
type Product struct {
	ProductInfo `yaml:",inline"`
	Stock       int `json:"stock" yaml:"stock"`
}

// Line is the shape the sync engine and the collection service work with.
// T is the concrete line type itself, so WithUnits can return it without boxing.
type Line[T any] interface {
	Key() string
	Units() int
	UnitPrice() float64
	WithUnits(n int) T
	StockLimit() (int, bool)
	WithStock(stock int) T
	DisplayName() string
	Validate() error
}

// CartItem is one line of a cart.
type CartItem struct {
	ProductInfo
	Quantity int  `json:"quantity"`
	Stock    *int `json:"stock,omitempty"`
}

// NewCartItem captures product data and a quantity as a cart line.
func NewCartItem(p Product, quantity int) CartItem {
	stock := p.Stock
	return CartItem{
		ProductInfo: p.ProductInfo,
		Quantity:    quantity,
		Stock:       &stock,
	}
}

// Key returns the product identifier.
func (c CartItem) Key() string { return c.ProductID }

// Units returns the quantity.
func (c CartItem) Units() int { return c.Quantity }

// UnitPrice returns the price used for totals.
func (c CartItem) UnitPrice() float64 { return c.EffectivePrice() }

// WithUnits returns a copy of the line with a new quantity.
func (c CartItem) WithUnits(n int) CartItem {
	c.Quantity = n
	return c
}

// StockLimit returns the stock snapshot captured with the line, if any.
func (c CartItem) StockLimit() (int, bool) {
	if c.Stock == nil {
		return 0, false
	}
	return *c.Stock, true
}

// WithStock returns a copy of the line with a fresh stock snapshot.
func (c CartItem) WithStock(stock int) CartItem {
	c.Stock = &stock
	return c
}

// Validate checks the cart line.
func (c CartItem) Validate() error {
	if err := c.ProductInfo.Validate(); err != nil {
		return err
	}

	if c.Quantity < 1 {
		return ErrInvalidQuantity
	}

	return nil
}

// WishlistItem is one line of a wishlist. It carries no quantity.
type WishlistItem struct {
	ProductInfo
}

// NewWishlistItem captures product data as a wishlist line.
func NewWishlistItem(p Product, _ int) WishlistItem {
	return WishlistItem{ProductInfo: p.ProductInfo}
}

// Key returns the product identifier.
func (w WishlistItem) Key() string { return w.ProductID }

// Units is always 1 for a wishlist line.
func (w WishlistItem) Units() int { return 1 }

// UnitPrice returns the price used for totals.
func (w WishlistItem) UnitPrice() float64 { return w.EffectivePrice() }

// WithUnits returns the line unchanged.
func (w WishlistItem) WithUnits(int) WishlistItem { return w }

// StockLimit is never known for a wishlist line.
func (w WishlistItem) StockLimit() (int, bool) { return 0, false }

// WithStock returns the line unchanged.
func (w WishlistItem) WithStock(int) WishlistItem { return w }

// Validate checks the wishlist line.
func (w WishlistItem) Validate() error {
	return w.ProductInfo.Validate()
}

// User describes an authenticated shopper. It is the LOGIN signal payload.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// QuantityUpdate is the body of a set-quantity request.
type QuantityUpdate struct {
	Quantity int `json:"quantity"`
}

// Float returns a pointer to v. Handy for optional prices.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v. Handy for stock snapshots.
func Int(v int) *int { return &v }
