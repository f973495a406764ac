package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
)

func TestCreateAddress(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   AddressInput
		want error
	}{
		{"duplicate natural key", AddressInput{Name: " main BUILDING ", PostalCode: "75001", City: "paris", Country: "fr", PartnerIDs: []string{"s2"}}, ErrDuplicateAddress},
		{"no partner", AddressInput{Name: "Annex", PostalCode: "75002", City: "Paris", Country: "FR"}, ErrNoLinkedPartner},
		{"companies differ", AddressInput{Name: "Annex", PostalCode: "75002", City: "Paris", Country: "FR", PartnerIDs: []string{"s1", "x"}}, ErrPartnerScope},
		{"unknown partner", AddressInput{Name: "Annex", PostalCode: "75002", City: "Paris", Country: "FR", PartnerIDs: []string{"ghost"}}, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.e.CreateAddress(f.ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	a, err := f.e.CreateAddress(f.ctx, AddressInput{Name: "Annex", PostalCode: "75002", City: "Paris", Country: "FR", PartnerIDs: []string{"s1", "s2", "s1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, a.PartnerIDs)
	assert.Equal(t, "Annex (75002 Paris)", a.DisplayName())
}

func TestLinkAndUnlinkPartner(t *testing.T) {
	f := newFixture(t)
	v, h := f.order(olIn("p", 10))

	a, err := f.e.LinkPartner(f.ctx, f.addr["a3"], "s1")
	require.NoError(t, err)
	assert.True(t, a.LinkedTo("s1"))
	_, err = f.e.LinkPartner(f.ctx, f.addr["a3"], "x")
	require.ErrorIs(t, err, ErrPartnerScope)

	l := f.line(h, v.Lines[0], 2, "s1", "a3", day)
	_, err = f.e.UnlinkPartner(f.ctx, f.addr["a3"], "s1")
	require.ErrorIs(t, err, ErrAddressInUse)
	_, err = f.e.CancelLine(f.ctx, l.ID)
	require.NoError(t, err)
	a, err = f.e.UnlinkPartner(f.ctx, f.addr["a3"], "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, a.PartnerIDs)

	_, err = f.e.UnlinkPartner(f.ctx, f.addr["a3"], "s2")
	require.ErrorIs(t, err, ErrNoLinkedPartner)
}

func TestAddressLifecycle(t *testing.T) {
	f := newFixture(t)
	v, h := f.order(olIn("p", 10))
	l := f.line(h, v.Lines[0], 2, "s1", "a1", day)

	require.ErrorIs(t, f.e.ArchiveAddress(f.ctx, f.addr["a1"]), ErrAddressInUse)
	require.ErrorIs(t, f.e.DeleteAddress(f.ctx, f.addr["a1"]), ErrAddressInUse)

	_, err := f.e.CancelLine(f.ctx, l.ID)
	require.NoError(t, err)
	require.NoError(t, f.e.ArchiveAddress(f.ctx, f.addr["a1"]))
	list, err := f.e.AddressesOf(f.ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, f.addr["a2"], list[0].ID)

	require.NoError(t, f.e.DeleteAddress(f.ctx, f.addr["a1"]))
	require.ErrorIs(t, f.e.DeleteAddress(f.ctx, f.addr["a1"]), store.ErrNotFound)

	// the cancelled line still references the removed address
	got, err := f.e.Line(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DispatchCancelled, got.State)
}
