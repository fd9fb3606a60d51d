package cart

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
)

// --- Mock implementations ---

type mockStore struct {
	carts   map[string]*Cart
	saves   int
	saveErr error
}

func newMockStore() *mockStore {
	return &mockStore{carts: make(map[string]*Cart)}
}

func (m *mockStore) Get(_ context.Context, userID, storeID string) (*Cart, error) {
	c, ok := m.carts[userID+"/"+storeID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *mockStore) Save(_ context.Context, c *Cart) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.carts[c.UserID+"/"+c.StoreID] = c.Clone()
	return nil
}

type mockUnits map[string]*unit.Unit

func (m mockUnits) Get(_ context.Context, serial string) (*unit.Unit, error) {
	u, ok := m[serial]
	if !ok {
		return nil, unit.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type mockCatalog map[string]*product.Product

func (m mockCatalog) GetByBarcode(_ context.Context, barcode string) (*product.Product, error) {
	p, ok := m[barcode]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

type mockPurchases struct {
	bought []string
	err    error
}

func (m *mockPurchases) OrderedSerials(_ context.Context, _ string, serials []string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []string
	for _, s := range serials {
		for _, b := range m.bought {
			if s == b {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// --- Helpers ---

func newTestService(purchases PurchaseLookup) (*Service, *mockStore) {
	store := newMockStore()
	units := mockUnits{
		"S1": {SerialNumber: "S1", Barcode: "B1", StoreID: "T1", Status: unit.StatusAvailable},
		"S2": {SerialNumber: "S2", Barcode: "B2", StoreID: "T1", Status: unit.StatusAvailable},
		"S3": {SerialNumber: "S3", Barcode: "B3", StoreID: "T1", Status: unit.StatusAvailable},
		"S9": {SerialNumber: "S9", Barcode: "B1", StoreID: "T1", Status: unit.StatusSold, Version: 1},
		"X1": {SerialNumber: "X1", Barcode: "B1", StoreID: "T2", Status: unit.StatusAvailable},
	}
	catalog := mockCatalog{
		"B1": {ID: "p1", Barcode: "B1", Name: "Jacket", Price: decimal.RequireFromString("45.00")},
		"B2": {ID: "p2", Barcode: "B2", Name: "Shirt", Price: decimal.RequireFromString("20.00")},
		"B3": {ID: "p3", Barcode: "B3", Name: "Cap", Price: decimal.RequireFromString("15.00")},
	}
	return NewService(store, units, catalog, purchases), store
}

// --- Tests ---

func TestGetOrCreate_CreatesEmptyCart(t *testing.T) {
	svc, store := newTestService(nil)

	c, err := svc.GetOrCreate(context.Background(), "U1", "T1")
	require.NoError(t, err)

	assert.Equal(t, "U1", c.UserID)
	assert.Equal(t, "T1", c.StoreID)
	assert.Empty(t, c.Lines)
	assert.True(t, c.Total.IsZero())
	assert.False(t, c.UpdatedAt.IsZero())
	assert.Equal(t, 1, store.saves)

	_, err = svc.GetOrCreate(context.Background(), "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves, "existing cart must not be saved again")
}

func TestAddLine(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	c, err := svc.AddLine(ctx, "U1", "S2", "T1")
	require.NoError(t, err)
	c, err = svc.AddLine(ctx, "U1", "S3", "T1")
	require.NoError(t, err)

	require.Len(t, c.Lines, 2)
	assert.Equal(t, Line{
		SerialNumber: "S2",
		ProductID:    "p2",
		Name:         "Shirt",
		Price:        decimal.RequireFromString("20.00"),
		Quantity:     1,
	}, c.Lines[0])
	assert.True(t, decimal.RequireFromString("35.00").Equal(c.Total))

	stored, err := svc.GetOrCreate(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S2", "S3"}, stored.Serials())
}

func TestAddLine_Errors(t *testing.T) {
	tests := []struct {
		name    string
		serial  string
		storeID string
		wantErr error
	}{
		{name: "unknown unit", serial: "NOPE", storeID: "T1", wantErr: unit.ErrNotFound},
		{name: "other store", serial: "X1", storeID: "T1", wantErr: unit.ErrNotFound},
		{name: "sold unit", serial: "S9", storeID: "T1", wantErr: unit.ErrNotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(nil)

			_, err := svc.AddLine(context.Background(), "U1", tt.serial, tt.storeID)
			require.ErrorIs(t, err, tt.wantErr)

			c, err := svc.GetOrCreate(context.Background(), "U1", tt.storeID)
			require.NoError(t, err)
			assert.Empty(t, c.Lines)
		})
	}
}

func TestAddLine_AlreadyInCart(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, "U1", "S1", "T1")
	require.NoError(t, err)

	_, err = svc.AddLine(ctx, "U1", "S1", "T1")
	require.ErrorIs(t, err, ErrAlreadyInCart)

	c, err := svc.GetOrCreate(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Len(t, c.Lines, 1)
	assert.True(t, decimal.RequireFromString("45.00").Equal(c.Total))
}

func TestAddLine_SaveError(t *testing.T) {
	svc, store := newTestService(nil)
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "U1", "T1")
	require.NoError(t, err)

	store.saveErr = errors.New("connection refused")
	_, err = svc.AddLine(ctx, "U1", "S1", "T1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save cart")
}

func TestRemoveLine(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, "U1", "S1", "T1")
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, "U1", "S2", "T1")
	require.NoError(t, err)

	c, err := svc.RemoveLine(ctx, "U1", "S1", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S2"}, c.Serials())
	assert.True(t, decimal.RequireFromString("20.00").Equal(c.Total))

	c, err = svc.RemoveLine(ctx, "U1", "S404", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S2"}, c.Serials())
}

func TestClear(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, "U1", "S1", "T1")
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, "U1", "T1"))

	c, err := svc.GetOrCreate(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.True(t, c.Total.IsZero())
}

func TestGetOrCreate_ReconcilesOrderedLines(t *testing.T) {
	purchases := &mockPurchases{}
	svc, _ := newTestService(purchases)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, "U1", "S1", "T1")
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, "U1", "S2", "T1")
	require.NoError(t, err)

	// Checkout committed S1 but did not clear the cart.
	purchases.bought = []string{"S1"}

	c, err := svc.GetOrCreate(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S2"}, c.Serials())
	assert.True(t, decimal.RequireFromString("20.00").Equal(c.Total))
}

func TestGetOrCreate_PurchaseLookupError(t *testing.T) {
	purchases := &mockPurchases{}
	svc, _ := newTestService(purchases)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, "U1", "S1", "T1")
	require.NoError(t, err)

	purchases.err = errors.New("timeout")
	_, err = svc.GetOrCreate(ctx, "U1", "T1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup ordered serials")
}

func TestLoad_ReadsSourceStore(t *testing.T) {
	svc, cached := newTestService(nil)
	source := newMockStore()
	svc.WithSource(source)
	ctx := context.Background()

	// Missing carts come back empty without being created.
	c, err := svc.Load(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.Zero(t, source.saves)
	assert.Zero(t, cached.saves)

	// A cached copy that still holds a removed line is ignored.
	stale := New("U1", "T1")
	stale.Lines = append(stale.Lines, Line{SerialNumber: "S1", Price: decimal.RequireFromString("45.00"), Quantity: 1})
	stale.Recalculate()
	cached.carts["U1/T1"] = stale
	source.carts["U1/T1"] = New("U1", "T1")

	c, err = svc.Load(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Empty(t, c.Serials())
}

func TestCart_Helpers(t *testing.T) {
	c := New("U1", "T1")
	c.Lines = append(c.Lines,
		Line{SerialNumber: "A", Price: decimal.RequireFromString("1.10"), Quantity: 2},
		Line{SerialNumber: "B", Price: decimal.RequireFromString("0.30"), Quantity: 1},
	)
	c.Recalculate()
	assert.True(t, decimal.RequireFromString("2.50").Equal(c.Total))
	assert.True(t, c.Has("A"))

	cp := c.Clone()
	assert.True(t, c.Remove("A"))
	assert.False(t, c.Remove("A"))
	assert.True(t, decimal.RequireFromString("0.30").Equal(c.Total))
	assert.Equal(t, []string{"A", "B"}, cp.Serials(), "clone must not share lines")

	c.Clear()
	assert.Empty(t, c.Lines)
	assert.True(t, c.Total.IsZero())
}
