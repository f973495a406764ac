package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
)

// AddressInput describes a new address.
type AddressInput struct {
	Name       string   `json:"name"`
	Street     string   `json:"street"`
	PostalCode string   `json:"postal_code"`
	City       string   `json:"city"`
	State      string   `json:"state"`
	Country    string   `json:"country"`
	PartnerIDs []string `json:"partner_ids"`
}

// checkScope verifies that the partners exist and share one company.
func checkScope(ctx context.Context, tx *store.Tx, partnerIDs []string) error {
	if len(partnerIDs) == 0 {
		return ErrNoLinkedPartner
	}
	company := ""
	for i, id := range partnerIDs {
		p, err := tx.Partner(ctx, id)
		if err != nil {
			return err
		}
		if i == 0 {
			company = p.CompanyID
			continue
		}
		if p.CompanyID != company {
			return fmt.Errorf("partner %s in company %q, expected %q: %w", p.ID, p.CompanyID, company, ErrPartnerScope)
		}
	}
	return nil
}

func saveAddress(ctx context.Context, tx *store.Tx, a *model.Address) error {
	if err := tx.SaveAddress(ctx, a); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%s: %w", a.DisplayName(), ErrDuplicateAddress)
		}
		return err
	}
	return nil
}

// CreateAddress registers an address linked to at least one partner.
func (e *Engine) CreateAddress(ctx context.Context, in AddressInput) (*model.Address, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("address name required: %w", ErrInvalidState)
	}
	a := &model.Address{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(in.Name),
		Street:     in.Street,
		PostalCode: strings.TrimSpace(in.PostalCode),
		City:       strings.TrimSpace(in.City),
		State:      in.State,
		Country:    strings.TrimSpace(in.Country),
		PartnerIDs: dedupe(in.PartnerIDs),
		Active:     true,
	}
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		if err := checkScope(ctx, o.tx, a.PartnerIDs); err != nil {
			return err
		}
		return saveAddress(ctx, o.tx, a)
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("address %s registered", a.DisplayName())
	return a, nil
}

// LinkPartner links an additional partner to the address.
func (e *Engine) LinkPartner(ctx context.Context, addressID, partnerID string) (*model.Address, error) {
	var out *model.Address
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		a, err := o.tx.Address(ctx, addressID)
		if err != nil {
			return err
		}
		if a.LinkedTo(partnerID) {
			out = a
			return nil
		}
		ids := append(append([]string(nil), a.PartnerIDs...), partnerID)
		if err := checkScope(ctx, o.tx, ids); err != nil {
			return err
		}
		a.PartnerIDs = ids
		out = a
		return saveAddress(ctx, o.tx, a)
	})
	return out, err
}

// UnlinkPartner removes a partner from the address. The address must keep a
// partner and no active line of that partner may target it.
func (e *Engine) UnlinkPartner(ctx context.Context, addressID, partnerID string) (*model.Address, error) {
	var out *model.Address
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		a, err := o.tx.Address(ctx, addressID)
		if err != nil {
			return err
		}
		if !a.LinkedTo(partnerID) {
			out = a
			return nil
		}
		lines, err := o.tx.LinesOfAddress(ctx, addressID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.StakeholderID == partnerID && l.State.Active() {
				return fmt.Errorf("line %s: %w", l.ID, ErrAddressInUse)
			}
		}
		kept := make([]string, 0, len(a.PartnerIDs))
		for _, id := range a.PartnerIDs {
			if id != partnerID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			return ErrNoLinkedPartner
		}
		a.PartnerIDs = kept
		out = a
		return saveAddress(ctx, o.tx, a)
	})
	return out, err
}

// ArchiveAddress deactivates an address no active line references.
func (e *Engine) ArchiveAddress(ctx context.Context, addressID string) error {
	return e.run(ctx, func(ctx context.Context, o *op) error {
		a, err := o.tx.Address(ctx, addressID)
		if err != nil {
			return err
		}
		lines, err := o.tx.LinesOfAddress(ctx, addressID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.State.Active() {
				return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrAddressInUse)
			}
		}
		a.Active = false
		return saveAddress(ctx, o.tx, a)
	})
}

// DeleteAddress removes an address no non-cancelled line references.
func (e *Engine) DeleteAddress(ctx context.Context, addressID string) error {
	return e.run(ctx, func(ctx context.Context, o *op) error {
		if _, err := o.tx.Address(ctx, addressID); err != nil {
			return err
		}
		lines, err := o.tx.LinesOfAddress(ctx, addressID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.State != model.DispatchCancelled {
				return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrAddressInUse)
			}
		}
		return o.tx.DeleteAddress(ctx, addressID)
	})
}

// AddressesOf lists the active addresses linked to a partner.
func (e *Engine) AddressesOf(ctx context.Context, partnerID string) ([]*model.Address, error) {
	var out []*model.Address
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		all, err := tx.AddressesOfPartner(ctx, partnerID)
		if err != nil {
			return err
		}
		for _, a := range all {
			if a.Active {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

// validateTarget is called on every dispatch line write.
func validateTarget(ctx context.Context, tx *store.Tx, stakeholderID, addressID string) error {
	a, err := tx.Address(ctx, addressID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("address %s: %w", addressID, ErrUnregisteredAddress)
	}
	if err != nil {
		return err
	}
	if !a.Active {
		return fmt.Errorf("address %s archived: %w", a.DisplayName(), ErrUnregisteredAddress)
	}
	if !a.LinkedTo(stakeholderID) {
		return fmt.Errorf("%s / %s: %w", a.DisplayName(), stakeholderID, ErrAddressNotLinked)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
