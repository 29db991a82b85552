package reports

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
	"github.com/Spok95/prodplan/internal/engine"
)

func TestUsedMaterials(t *testing.T) {
	ctx := context.Background()
	store := engine.NewMemStore()
	svc := engine.New(store)
	exp := NewExporter(svc, store)

	mt := store.AddMaterialType("Масло ши")
	expiry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.AddLot(mt.ID, "Л-7", 100, &expiry)
	tpl := store.AddTemplate(recipes.Item{MaterialTypeID: mt.ID, Percentage: decimal.RequireFromString("100")})
	plan := store.AddPlan(tpl, 60, "П-1", production.StatusInProgress)

	_, err := svc.CreateBatch(ctx, plan.ID, "1", 60, "op")
	require.NoError(t, err)

	// до завершения отчёт недоступен
	_, err = exp.UsedMaterials(ctx, plan.ID)
	require.ErrorIs(t, err, ErrPlanNotCompleted)

	require.NoError(t, svc.Transition(ctx, plan.ID, production.StatusCompleted, "op", ""))

	data, err := exp.UsedMaterials(ctx, plan.ID)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"batch", "lot", "material_type", "used_kg"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "Л-7", rows[1][1])
	assert.Equal(t, "Масло ши", rows[1][2])
	assert.Equal(t, "60", rows[1][3])
}

func TestForecastExport(t *testing.T) {
	ctx := context.Background()
	store := engine.NewMemStore()
	svc := engine.New(store)
	exp := NewExporter(svc, store)

	mt := store.AddMaterialType("Воск")
	store.AddLot(mt.ID, "Л-1", 500, nil)

	data, err := exp.Forecast(ctx)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	// без утверждённых планов: шапка + итого/остаток/баланс
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"date", "Воск"}, rows[0])
	assert.Equal(t, "остаток", rows[2][0])
	assert.Equal(t, "500", rows[2][1])
}
