package store

// Table names.
const (
	TableOrders       = "orders"
	TableOrderLines   = "order_lines"
	TableProducts     = "products"
	TableUoMs         = "uoms"
	TablePartners     = "partners"
	TableAddresses    = "addresses"
	TablePickingTypes = "picking_types"
	TableHeaders      = "dispatch_headers"
	TableLines        = "dispatch_lines"
	TableShipments    = "shipments"
)

// Table declares a document table and its key columns.
type Table struct {
	Name   string
	Keys   []string
	Unique []string
}

// Schema lists every document table. Backends create one table per entry
// with an id, a doc column and the key columns.
var Schema = []Table{
	{Name: TableOrders},
	{Name: TableOrderLines, Keys: []string{"order_id"}},
	{Name: TableProducts},
	{Name: TableUoMs},
	{Name: TablePartners},
	{Name: TableAddresses, Keys: []string{"natural_key"}, Unique: []string{"natural_key"}},
	{Name: TablePickingTypes, Keys: []string{"company_id"}},
	{Name: TableHeaders, Keys: []string{"order_id"}, Unique: []string{"order_id"}},
	{Name: TableLines, Keys: []string{"header_id", "order_line_id", "shipment_id", "address_id"}},
	{Name: TableShipments, Keys: []string{"order_id", "header_id"}},
}

// Lookup returns the table declaration by name.
func Lookup(name string) (Table, bool) {
	for _, t := range Schema {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// IsUnique reports whether column carries a unique constraint.
func (t Table) IsUnique(column string) bool {
	for _, c := range t.Unique {
		if c == column {
			return true
		}
	}
	return false
}

// HasKey reports whether column is an indexed key of the table.
func (t Table) HasKey(column string) bool {
	for _, c := range t.Keys {
		if c == column {
			return true
		}
	}
	return false
}
