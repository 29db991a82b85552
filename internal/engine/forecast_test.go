package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/prodplan/internal/domain/planning"
	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
)

func setPlanCreatedAt(store *MemStore, planID int64, day string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	p := store.plans[planID]
	p.CreatedAt, _ = time.Parse("2006-01-02", day)
	store.plans[planID] = p
}

func TestBuildForecast_GroupsByDate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	b := store.AddMaterialType("B")
	store.AddLot(a.ID, "A1", 500, date("2025-01-01"))
	store.AddLot(b.ID, "B1", 100, date("2025-01-01"))
	tpl := store.AddTemplate(
		recipes.Item{MaterialTypeID: a.ID, Percentage: dec("60")},
		recipes.Item{MaterialTypeID: b.ID, Percentage: dec("40")},
	)

	p1 := store.AddPlan(tpl, 100, "П-1", production.StatusApproved)
	p2 := store.AddPlan(tpl, 200, "П-2", production.StatusApproved)
	p3 := store.AddPlan(tpl, 50, "П-3", production.StatusApproved)
	setPlanCreatedAt(store, p1.ID, "2024-03-01")
	setPlanCreatedAt(store, p2.ID, "2024-03-01")
	setPlanCreatedAt(store, p3.ID, "2024-03-05")

	// черновики и завершённые не входят в прогноз
	draft := store.AddPlan(tpl, 999, "П-4", production.StatusDraft)
	setPlanCreatedAt(store, draft.ID, "2024-03-01")

	f, err := svc.BuildForecast(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-03-01", "2024-03-05"}, f.Dates)

	assert.InDelta(t, 180, f.Demand["2024-03-01"][a.ID], 1e-9) // 60+120
	assert.InDelta(t, 120, f.Demand["2024-03-01"][b.ID], 1e-9)
	assert.InDelta(t, 30, f.Demand["2024-03-05"][a.ID], 1e-9)

	assert.InDelta(t, 210, f.Cumulative[a.ID], 1e-9)
	assert.InDelta(t, 140, f.Cumulative[b.ID], 1e-9)

	assert.InDelta(t, 500, f.Stock[a.ID], 1e-9)
	assert.InDelta(t, 290, f.Balance[a.ID], 1e-9)
	assert.InDelta(t, -40, f.Balance[b.ID], 1e-9)
}

func TestBuildForecast_DateRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	tpl := store.AddTemplate(recipes.Item{MaterialTypeID: a.ID, Percentage: dec("100")})

	early := store.AddPlan(tpl, 10, "П-1", production.StatusApproved)
	inside := store.AddPlan(tpl, 20, "П-2", production.StatusApproved)
	late := store.AddPlan(tpl, 30, "П-3", production.StatusApproved)
	setPlanCreatedAt(store, early.ID, "2024-01-10")
	setPlanCreatedAt(store, inside.ID, "2024-02-10")
	setPlanCreatedAt(store, late.ID, "2024-03-10")

	from, _ := time.Parse("2006-01-02", "2024-02-01")
	to, _ := time.Parse("2006-01-02", "2024-02-28")
	f, err := svc.BuildForecast(ctx, &from, &to)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-02-10"}, f.Dates)
	assert.InDelta(t, 20, f.Cumulative[a.ID], 1e-9)
}

func TestBuildForecast_Empty(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	f, err := svc.BuildForecast(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, f.Dates)
	assert.Empty(t, f.Cumulative)
}

func TestMonthlyDemand(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	b := store.AddMaterialType("B")
	tpl := store.AddTemplate(
		recipes.Item{MaterialTypeID: a.ID, Percentage: dec("60")},
		recipes.Item{MaterialTypeID: b.ID, Percentage: dec("40")},
	)

	store.AddMonthlyPlan(planning.MonthlyPlan{Year: 2024, Month: time.March, TemplateID: tpl, QuantityKg: 100})
	store.AddMonthlyPlan(planning.MonthlyPlan{Year: 2024, Month: time.March, TemplateID: tpl, QuantityKg: 50})
	store.AddMonthlyPlan(planning.MonthlyPlan{Year: 2024, Month: time.April, TemplateID: tpl, QuantityKg: 200})
	store.AddMonthlyPlan(planning.MonthlyPlan{Year: 2025, Month: time.March, TemplateID: tpl, QuantityKg: 999})

	demand, err := svc.MonthlyDemand(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, demand, 2)
	assert.InDelta(t, 90, demand[time.March][a.ID], 1e-9)  // (100+50)*0.6
	assert.InDelta(t, 60, demand[time.March][b.ID], 1e-9)
	assert.InDelta(t, 120, demand[time.April][a.ID], 1e-9)
}
