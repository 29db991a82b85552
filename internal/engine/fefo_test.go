package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
)

func TestAllocate_FEFO(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	lot1 := store.AddLot(a.ID, "L1", 30, date("2024-01-01"))
	lot2 := store.AddLot(a.ID, "L2", 50, date("2024-06-01"))

	res, err := svc.Allocate(ctx, a.ID, 60)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, lot1.ID, res.Allocations[0].Lot.ID)
	assert.InDelta(t, 30, res.Allocations[0].Qty, 1e-9)
	assert.Equal(t, lot2.ID, res.Allocations[1].Lot.ID)
	assert.InDelta(t, 30, res.Allocations[1].Qty, 1e-9)
	assert.Zero(t, res.ShortageKg)
	assert.InDelta(t, 60, res.AllocatedKg(), 1e-9)
}

func TestAllocate_Ordering(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	// без срока годности — в конец; равные сроки — по возрастанию id
	noExp := store.AddLot(a.ID, "noexp", 10, nil)
	late := store.AddLot(a.ID, "late", 10, date("2025-01-01"))
	tie1 := store.AddLot(a.ID, "tie1", 10, date("2024-03-01"))
	tie2 := store.AddLot(a.ID, "tie2", 10, date("2024-03-01"))

	res, err := svc.Allocate(ctx, a.ID, 40)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 4)
	got := []int64{
		res.Allocations[0].Lot.ID,
		res.Allocations[1].Lot.ID,
		res.Allocations[2].Lot.ID,
		res.Allocations[3].Lot.ID,
	}
	assert.Equal(t, []int64{tie1.ID, tie2.ID, late.ID, noExp.ID}, got)

	// порядок воспроизводим при повторном вызове
	res2, err := svc.Allocate(ctx, a.ID, 40)
	require.NoError(t, err)
	for i := range res.Allocations {
		assert.Equal(t, res.Allocations[i].Lot.ID, res2.Allocations[i].Lot.ID)
	}
}

func TestAllocate_Shortage(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	store.AddLot(a.ID, "L1", 25, date("2024-01-01"))

	res, err := svc.Allocate(ctx, a.ID, 60)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.InDelta(t, 25, res.Allocations[0].Qty, 1e-9)
	assert.InDelta(t, 35, res.ShortageKg, 1e-9)
}

func TestAllocate_SkipsReservedByInFlightPlans(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	lot1 := store.AddLot(a.ID, "L1", 30, date("2024-01-01"))
	lot2 := store.AddLot(a.ID, "L2", 50, date("2024-06-01"))

	tpl := store.AddTemplate(recipes.Item{MaterialTypeID: a.ID, Percentage: dec("60")})
	plan := store.AddPlan(tpl, 100, "П-1", production.StatusInProgress)

	_, err := svc.CreateBatch(ctx, plan.ID, "1", 100, "op")
	require.NoError(t, err)

	// после резерва 60 кг незавершённым планом: Lot1 пуст, Lot2 свободно 20
	free1, err := svc.EffectiveFree(ctx, lot1)
	require.NoError(t, err)
	assert.Zero(t, free1)
	l2, err := store.Lot(ctx, lot2.ID)
	require.NoError(t, err)
	free2, err := svc.EffectiveFree(ctx, *l2)
	require.NoError(t, err)
	assert.InDelta(t, 20, free2, 1e-9)

	// физический остаток не тронут: списания до завершения нет
	assert.InDelta(t, 30, store.LotQuantity(lot1.ID), 1e-9)
	assert.InDelta(t, 50, store.LotQuantity(lot2.ID), 1e-9)
}
