package engine

import "github.com/vyrodovalexey/basket-sync/internal/model"

// CartPolicy tracks quantities and clamps them against stock.
func CartPolicy() Policy[model.CartItem] {
	return Policy[model.CartItem]{
		Kind:           model.KindCart,
		TracksQuantity: true,
		FromProduct:    model.NewCartItem,
	}
}

// WishlistPolicy keeps one entry per product and ignores stock.
func WishlistPolicy() Policy[model.WishlistItem] {
	return Policy[model.WishlistItem]{
		Kind:        model.KindWishlist,
		FromProduct: model.NewWishlistItem,
	}
}

// NewCart creates a cart engine.
func NewCart(deps Deps[model.CartItem]) (*Engine[model.CartItem], error) {
	return New(CartPolicy(), deps)
}

// NewWishlist creates a wishlist engine.
func NewWishlist(deps Deps[model.WishlistItem]) (*Engine[model.WishlistItem], error) {
	return New(WishlistPolicy(), deps)
}
