// Package engine — ядро планирования производства: расчёт потребности
// по рецептуре, резервирование партий сырья (FEFO), жизненный цикл
// плана с атомарным списанием и восстановлением остатков.
package engine

import (
	"context"
	"time"

	"github.com/Spok95/prodplan/internal/domain/recipes"
)

// MaxBatchWeightKg — технологический потолок веса одного замеса.
const MaxBatchWeightKg = 1000.0

// qtyEps — допуск на шум float64 в строгих сравнениях количеств.
const qtyEps = 1e-9

type Service struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// ComputeRequirement — потребность в сырье по видам для заданного
// веса: weight × percentage / 100 по каждой позиции рецептуры.
func (s *Service) ComputeRequirement(ctx context.Context, templateID int64, weightKg float64) (map[int64]float64, error) {
	items, err := s.store.TemplateItems(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		return nil, ErrTemplateNotFound
	}
	out := make(map[int64]float64, len(items))
	for _, it := range items {
		out[it.MaterialTypeID] = recipes.RequiredKg(weightKg, it.Percentage)
	}
	return out, nil
}
