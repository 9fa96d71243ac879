package collection

// Clamp limits a requested quantity to the known stock.
// truncated is true when the request had to be reduced.
// Callers reject stock <= 0 before clamping.
func Clamp(requested, stock int) (quantity int, truncated bool) {
	if requested > stock {
		return stock, true
	}
	return requested, false
}
