package model

import (
	"fmt"
	"strings"
)

// Partner is a company that can order or receive goods.
type Partner struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id"`
	Active    bool   `json:"active"`
}

// Address is a physical location shared by one or more partners.
type Address struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Street     string   `json:"street,omitempty"`
	PostalCode string   `json:"postal_code"`
	City       string   `json:"city"`
	State      string   `json:"state,omitempty"`
	Country    string   `json:"country"`
	PartnerIDs []string `json:"partner_ids"`
	Active     bool     `json:"active"`
}

// DisplayName renders "name (postal_code city)".
func (a *Address) DisplayName() string {
	return fmt.Sprintf("%s (%s %s)", a.Name, a.PostalCode, a.City)
}

// NaturalKey is the uniqueness key (name, postal_code, city, country).
func (a *Address) NaturalKey() string {
	parts := []string{a.Name, a.PostalCode, a.City, a.Country}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "|")
}

// LinkedTo reports whether the partner uses this address.
func (a *Address) LinkedTo(partnerID string) bool {
	for _, id := range a.PartnerIDs {
		if id == partnerID {
			return true
		}
	}
	return false
}
