// Package catalog supplies product records to the collection engines from a
// YAML file.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// Catalog errors.
var (
	ErrDuplicateProduct = errors.New("duplicate product id")
	ErrNegativeStock    = errors.New("stock cannot be negative")
	ErrUnknownProduct   = errors.New("unknown product")
)

// file is the on-disk layout:
//
//	products:
//	  - productId: "101"
//	    name: Malbec Reserva
//	    price: 24.5
//	    salePrice: 19.9
//	    stock: 6
type file struct {
	Products []model.Product `yaml:"products"`
}

// Catalog is an immutable, in-memory product list.
type Catalog struct {
	products []model.Product
	byID     map[string]int
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog document. Unknown fields are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc file
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return New(doc.Products)
}

// New builds a catalog from products, keeping their order.
func New(products []model.Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]model.Product, 0, len(products)),
		byID:     make(map[string]int, len(products)),
	}

	for i, p := range products {
		p.ProductID = strings.TrimSpace(p.ProductID)
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("product #%d: %w", i+1, err)
		}
		if p.Stock < 0 {
			return nil, fmt.Errorf("product %s: %w", p.ProductID, ErrNegativeStock)
		}
		if _, dup := c.byID[p.ProductID]; dup {
			return nil, fmt.Errorf("product %s: %w", p.ProductID, ErrDuplicateProduct)
		}
		c.byID[p.ProductID] = len(c.products)
		c.products = append(c.products, p)
	}

	return c, nil
}

// Get returns the product with id.
func (c *Catalog) Get(id string) (model.Product, error) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return model.Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return c.products[i], nil
}

// List returns every product in file order.
func (c *Catalog) List() []model.Product {
	out := make([]model.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Search returns products whose name, brand or category contains query,
// case-insensitively, sorted by name.
func (c *Catalog) Search(query string) []model.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.List()
	}

	var out []model.Product
	for _, p := range c.products {
		haystack := strings.ToLower(p.Name + " " + p.Brand + " " + p.Category)
		if strings.Contains(haystack, q) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	return len(c.products)
}
