package engine

import (
	"context"

	"github.com/Spok95/prodplan/internal/domain/materials"
)

// EffectiveFree — свободный остаток партии: физический остаток минус
// резервы незавершённых планов. Резервы завершённых планов не
// вычитаются — их расход уже отражён в quantity_kg. Не бывает
// отрицательным.
func (s *Service) EffectiveFree(ctx context.Context, lot materials.Lot) (float64, error) {
	reserved, err := s.store.ReservedQty(ctx, lot.ID)
	if err != nil {
		return 0, err
	}
	free := lot.QuantityKg - reserved
	if free < 0 {
		free = 0
	}
	return free, nil
}

// Availability — суммарный свободный остаток по виду сырья.
func (s *Service) Availability(ctx context.Context, typeID int64) (float64, error) {
	lots, err := s.store.LotsByType(ctx, typeID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, l := range lots {
		free, err := s.EffectiveFree(ctx, l)
		if err != nil {
			return 0, err
		}
		total += free
	}
	return total, nil
}
