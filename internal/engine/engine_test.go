package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/prodplan/internal/domain/recipes"
)

func TestComputeRequirement(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := New(store)

	a := store.AddMaterialType("A")
	b := store.AddMaterialType("B")
	tpl := store.AddTemplate(
		recipes.Item{MaterialTypeID: a.ID, Percentage: dec("60")},
		recipes.Item{MaterialTypeID: b.ID, Percentage: dec("40")},
	)

	req, err := svc.ComputeRequirement(ctx, tpl, 100)
	require.NoError(t, err)
	assert.InDelta(t, 60, req[a.ID], 1e-9)
	assert.InDelta(t, 40, req[b.ID], 1e-9)

	// дробный процент считается в decimal, без float-шума
	tpl2 := store.AddTemplate(recipes.Item{MaterialTypeID: a.ID, Percentage: dec("33.333")})
	req, err = svc.ComputeRequirement(ctx, tpl2, 300)
	require.NoError(t, err)
	assert.InDelta(t, 99.999, req[a.ID], 1e-9)

	_, err = svc.ComputeRequirement(ctx, 404, 100)
	require.ErrorIs(t, err, ErrTemplateNotFound)

	// существующий пустой черновик рецепта — не «шаблон не найден»
	empty := store.AddTemplate()
	req, err = svc.ComputeRequirement(ctx, empty, 100)
	require.NoError(t, err)
	assert.Empty(t, req)
}
