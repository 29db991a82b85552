package engine

import (
	"context"
	"sort"

	"github.com/Spok95/prodplan/internal/domain/materials"
)

// Allocation — сколько взято из конкретной партии.
type Allocation struct {
	Lot materials.Lot
	Qty float64
}

// AllocationResult — результат набора потребности по партиям.
// Ненулевой ShortageKg сам по себе не ошибка: решает вызывающий
// (при завершении плана недобор недопустим, при ручном донаборе — да).
type AllocationResult struct {
	Allocations []Allocation
	ShortageKg  float64
}

// AllocatedKg — суммарно набранное количество.
func (r AllocationResult) AllocatedKg() float64 {
	var total float64
	for _, a := range r.Allocations {
		total += a.Qty
	}
	return total
}

// sortFEFO упорядочивает партии по сроку годности по возрастанию,
// без срока — в конец; при равных сроках — по возрастанию id.
// Порядок детерминирован, что даёт воспроизводимое распределение.
func sortFEFO(lots []materials.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return a.ID < b.ID
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ID < b.ID
		default:
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
	})
}

// Allocate жадно набирает neededKg по партиям вида typeID в порядке
// FEFO, беря из каждой min(свободный остаток, остаток потребности).
func (s *Service) Allocate(ctx context.Context, typeID int64, neededKg float64) (*AllocationResult, error) {
	lots, err := s.store.LotsByType(ctx, typeID)
	if err != nil {
		return nil, err
	}

	candidates := lots[:0:0]
	for _, l := range lots {
		if l.QuantityKg > 0 {
			candidates = append(candidates, l)
		}
	}
	sortFEFO(candidates)

	res := &AllocationResult{}
	remaining := neededKg
	for _, lot := range candidates {
		if remaining <= qtyEps {
			remaining = 0
			break
		}
		free, err := s.EffectiveFree(ctx, lot)
		if err != nil {
			return nil, err
		}
		qty := free
		if remaining < qty {
			qty = remaining
		}
		if qty > 0 {
			res.Allocations = append(res.Allocations, Allocation{Lot: lot, Qty: qty})
			remaining -= qty
		}
	}
	if remaining > qtyEps {
		res.ShortageKg = remaining
	}
	return res, nil
}
