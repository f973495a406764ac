package model

import "github.com/shopspring/decimal"

// ProductType drives whether a product can be shipped.
type ProductType string

const (
	ProductStorable   ProductType = "storable"
	ProductConsumable ProductType = "consumable"
	ProductService    ProductType = "service"
)

// Product is a sellable item.
type Product struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       ProductType `json:"type"`
	UoMID      string      `json:"uom_id"`
	Perishable bool        `json:"perishable,omitempty"`
	ColdChain  bool        `json:"cold_chain,omitempty"`
	Allergens  []string    `json:"allergens,omitempty"`
	Tracking   string      `json:"tracking,omitempty"`
}

// Shippable reports whether the stock engine has a delivery rule for the product.
func (p *Product) Shippable() bool {
	return p.Type == ProductStorable || p.Type == ProductConsumable
}

// UoM is a unit of measure belonging to a category. Ratio is the number of
// category reference units contained in one unit (each=1, dozen=12).
type UoM struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Ratio      decimal.Decimal `json:"ratio"`
}
