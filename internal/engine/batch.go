package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
)

// IngredientFill — итог автозаполнения одного ингредиента замеса.
type IngredientFill struct {
	TypeID      int64
	TypeName    string
	NeededKg    float64
	AllocatedKg float64
	ShortageKg  float64
}

// BatchResult — созданный замес и разбивка по ингредиентам.
type BatchResult struct {
	Batch       production.Batch
	Ingredients []IngredientFill
}

// CreateBatch создаёт замес и автоматически резервирует сырьё по всем
// позициям рецептуры. Нехватка по ингредиенту не отменяет создание:
// позиция остаётся недобранной, нехватка возвращается вызывающему
// (донабор — через AddIngredient). Строгий контроль — при завершении.
// Чтения при распределении не блокируют партии; от параллельного
// двойного резервирования защищает повторная проверка свободного
// остатка в транзакции записи (см. Store). Гонка проявляется как
// InsufficientLotError, замес тогда не создаётся.
func (s *Service) CreateBatch(ctx context.Context, planID int64, number string, weightKg float64, actor string) (*BatchResult, error) {
	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if plan.Status == production.StatusCompleted {
		return nil, PlanCompletedError{PlanID: planID}
	}
	if weightKg <= 0 || weightKg > MaxBatchWeightKg {
		return nil, WeightOutOfRangeError{WeightKg: weightKg}
	}

	batches, err := s.store.Batches(ctx, planID)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, b := range batches {
		if b.Number == number {
			return nil, DuplicateBatchLabelError{PlanID: planID, Number: number}
		}
		total += b.WeightKg
	}
	if total+weightKg > plan.QuantityKg+qtyEps {
		return nil, PlanOverrunError{PlanID: planID, TotalKg: total + weightKg, PlanKg: plan.QuantityKg}
	}

	items, err := s.store.TemplateItems(ctx, plan.TemplateID)
	if err != nil {
		return nil, err
	}

	var reservations []production.Reservation
	fills := make([]IngredientFill, 0, len(items))
	shortages := map[string]float64{}
	for _, it := range items {
		needed := recipes.RequiredKg(weightKg, it.Percentage)
		alloc, err := s.Allocate(ctx, it.MaterialTypeID, needed)
		if err != nil {
			return nil, err
		}
		for _, a := range alloc.Allocations {
			reservations = append(reservations, production.Reservation{
				LotID:        a.Lot.ID,
				ReservedQty:  a.Qty,
				RemainingQty: a.Qty,
				UsedQty:      a.Qty,
			})
		}
		fills = append(fills, IngredientFill{
			TypeID:      it.MaterialTypeID,
			TypeName:    it.TypeName,
			NeededKg:    needed,
			AllocatedKg: alloc.AllocatedKg(),
			ShortageKg:  alloc.ShortageKg,
		})
		if alloc.ShortageKg > 0 {
			shortages[it.TypeName] = alloc.ShortageKg
			allocationShortages.Inc()
		}
	}

	payload := map[string]any{
		"number":    number,
		"weight_kg": weightKg,
	}
	if len(shortages) > 0 {
		payload["shortages"] = shortages
	}
	created, err := s.store.CreateBatch(ctx,
		production.Batch{PlanID: planID, Number: number, WeightKg: weightKg},
		reservations,
		s.audit(planID, actor, production.EventBatchAdded, payload),
	)
	if err != nil {
		return nil, err
	}
	batchesCreated.Inc()
	return &BatchResult{Batch: *created, Ingredients: fills}, nil
}

// CreateBatches — пакетное создание n одинаковых замесов. Номера
// продолжаются с наименьшего свободного целого. В пакетном режиме
// замес с нехваткой сырья не создаётся, а попадает в skipped.
func (s *Service) CreateBatches(ctx context.Context, planID int64, n int, weightEachKg float64, actor string) (created []BatchResult, skipped []string, err error) {
	if n <= 0 || weightEachKg <= 0 {
		return nil, nil, WeightOutOfRangeError{WeightKg: weightEachKg}
	}
	if weightEachKg > MaxBatchWeightKg {
		return nil, nil, WeightOutOfRangeError{WeightKg: weightEachKg}
	}

	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return nil, nil, ErrPlanNotFound
	}
	if plan.Status == production.StatusCompleted {
		return nil, nil, PlanCompletedError{PlanID: planID}
	}

	batches, err := s.store.Batches(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	var total float64
	used := make(map[string]bool, len(batches))
	for _, b := range batches {
		total += b.WeightKg
		used[b.Number] = true
	}
	if total+float64(n)*weightEachKg > plan.QuantityKg+qtyEps {
		return nil, nil, PlanOverrunError{
			PlanID:  planID,
			TotalKg: total + float64(n)*weightEachKg,
			PlanKg:  plan.QuantityKg,
		}
	}

	next := 1
	for used[strconv.Itoa(next)] {
		next++
	}
	for i := 0; i < n; i++ {
		number := strconv.Itoa(next)
		next++
		for used[strconv.Itoa(next)] {
			next++
		}
		res, err := s.CreateBatch(ctx, planID, number, weightEachKg, actor)
		if err != nil {
			return created, skipped, err
		}
		short := false
		for _, f := range res.Ingredients {
			if f.ShortageKg > 0 {
				skipped = append(skipped, fmt.Sprintf("замес №%s: недостаточно %s (%.2f кг)", number, f.TypeName, f.ShortageKg))
				short = true
				break
			}
		}
		if short {
			// недобранный замес в пакетном режиме не оставляем
			if err := s.DeleteBatch(ctx, res.Batch.ID, actor); err != nil {
				return created, skipped, err
			}
			continue
		}
		created = append(created, *res)
	}
	return created, skipped, nil
}

// AddIngredient — ручной донабор ингредиента из конкретной партии.
func (s *Service) AddIngredient(ctx context.Context, batchID, lotID int64, qty float64, actor string) (*production.Reservation, error) {
	if qty <= 0 {
		return nil, InvalidQuantityError{QtyKg: qty}
	}
	batch, err := s.store.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	plan, err := s.store.Plan(ctx, batch.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if plan.Status == production.StatusCompleted {
		return nil, PlanCompletedError{PlanID: plan.ID}
	}

	lot, err := s.store.Lot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, ErrLotNotFound
	}

	items, err := s.store.TemplateItems(ctx, plan.TemplateID)
	if err != nil {
		return nil, err
	}
	var item *recipes.Item
	for i := range items {
		if items[i].MaterialTypeID == lot.TypeID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return nil, IngredientNotInRecipeError{TemplateID: plan.TemplateID, TypeID: lot.TypeID}
	}

	usedQty, err := s.usedByType(ctx, batchID, lot.TypeID)
	if err != nil {
		return nil, err
	}
	remaining := recipes.RequiredKg(batch.WeightKg, item.Percentage) - usedQty
	if qty > remaining+qtyEps {
		return nil, ExceedsRequirementError{BatchID: batchID, TypeID: lot.TypeID, RemainingKg: remaining}
	}

	free, err := s.EffectiveFree(ctx, *lot)
	if err != nil {
		return nil, err
	}
	if qty > free+qtyEps {
		return nil, InsufficientLotError{LotID: lotID, AvailableKg: free}
	}

	res, err := s.store.AddReservation(ctx,
		production.Reservation{
			BatchID:      batchID,
			LotID:        lotID,
			ReservedQty:  qty,
			RemainingQty: qty,
			UsedQty:      qty,
		},
		s.audit(plan.ID, actor, production.EventIngredientAdded, map[string]any{
			"batch":   batch.Number,
			"lot_id":  lotID,
			"type_id": lot.TypeID,
			"qty_kg":  qty,
		}),
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RemoveIngredient убирает ошибочно внесённый ингредиент (один резерв)
// из замеса незавершённого плана. Остаток партии не меняется: резерв
// ещё не был списан.
func (s *Service) RemoveIngredient(ctx context.Context, reservationID int64, actor string) error {
	res, err := s.store.Reservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res == nil {
		return ErrReservationNotFound
	}
	batch, err := s.store.Batch(ctx, res.BatchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return ErrBatchNotFound
	}
	plan, err := s.store.Plan(ctx, batch.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrPlanNotFound
	}
	if plan.Status == production.StatusCompleted {
		return PlanCompletedError{PlanID: plan.ID}
	}
	return s.store.DeleteReservation(ctx, reservationID,
		s.audit(plan.ID, actor, production.EventIngredientRemoved, map[string]any{
			"batch":  batch.Number,
			"lot_id": res.LotID,
			"qty_kg": res.UsedQty,
		}),
	)
}

// DeleteBatch удаляет замес вместе с его резервами. Остатки не трогаются:
// для незавершённого плана ничего физически не списывалось.
func (s *Service) DeleteBatch(ctx context.Context, batchID int64, actor string) error {
	batch, err := s.store.Batch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return ErrBatchNotFound
	}
	plan, err := s.store.Plan(ctx, batch.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrPlanNotFound
	}
	if plan.Status == production.StatusCompleted {
		return PlanCompletedError{PlanID: plan.ID}
	}
	return s.store.DeleteBatch(ctx, batchID,
		s.audit(plan.ID, actor, production.EventBatchDeleted, map[string]any{
			"number":    batch.Number,
			"weight_kg": batch.WeightKg,
		}),
	)
}

// DeleteAllBatches удаляет все замесы незавершённого плана.
func (s *Service) DeleteAllBatches(ctx context.Context, planID int64, actor string) (int, error) {
	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return 0, err
	}
	if plan == nil {
		return 0, ErrPlanNotFound
	}
	if plan.Status == production.StatusCompleted {
		return 0, PlanCompletedError{PlanID: planID}
	}
	batches, err := s.store.Batches(ctx, planID)
	if err != nil {
		return 0, err
	}
	if len(batches) == 0 {
		return 0, nil
	}
	err = s.store.DeleteBatches(ctx, planID,
		s.audit(planID, actor, production.EventBatchesDeleted, map[string]any{
			"count": len(batches),
		}),
	)
	if err != nil {
		return 0, err
	}
	return len(batches), nil
}

// usedByType — сколько уже внесено в замес по данному виду сырья.
func (s *Service) usedByType(ctx context.Context, batchID, typeID int64) (float64, error) {
	reservations, err := s.store.Reservations(ctx, batchID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, r := range reservations {
		lot, err := s.store.Lot(ctx, r.LotID)
		if err != nil {
			return 0, err
		}
		if lot != nil && lot.TypeID == typeID {
			total += r.UsedQty
		}
	}
	return total, nil
}

func (s *Service) audit(planID int64, actor, kind string, payload map[string]any) production.AuditEntry {
	return production.AuditEntry{
		PlanID:    planID,
		CreatedAt: s.now(),
		Actor:     actor,
		EventKind: kind,
		Payload:   payload,
	}
}
