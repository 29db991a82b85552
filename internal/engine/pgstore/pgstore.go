// Package pgstore — постгрес-реализация engine.Store. Каждая мутация
// выполняется одной транзакцией; списание и восстановление остатков
// берут построчные блокировки затронутых партий.
package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/prodplan/internal/domain/materials"
	"github.com/Spok95/prodplan/internal/domain/planning"
	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
	"github.com/Spok95/prodplan/internal/engine"
)

type Store struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

/* Чтение */

func (s *Store) Plan(ctx context.Context, id int64) (*production.Plan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, product_id, template_id, quantity_kg, batch_number, status, created_at
		FROM production_plans WHERE id = $1
	`, id)
	var p production.Plan
	if err := row.Scan(&p.ID, &p.ProductID, &p.TemplateID, &p.QuantityKg, &p.BatchNumber, &p.Status, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) PlansByStatus(ctx context.Context, status production.PlanStatus) ([]production.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, template_id, quantity_kg, batch_number, status, created_at
		FROM production_plans
		WHERE status = $1
		ORDER BY created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []production.Plan
	for rows.Next() {
		var p production.Plan
		if err := rows.Scan(&p.ID, &p.ProductID, &p.TemplateID, &p.QuantityKg, &p.BatchNumber, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Batch(ctx context.Context, id int64) (*production.Batch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, plan_id, number, weight_kg, created_at
		FROM production_batches WHERE id = $1
	`, id)
	var b production.Batch
	if err := row.Scan(&b.ID, &b.PlanID, &b.Number, &b.WeightKg, &b.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) Batches(ctx context.Context, planID int64) ([]production.Batch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, plan_id, number, weight_kg, created_at
		FROM production_batches
		WHERE plan_id = $1
		ORDER BY id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []production.Batch
	for rows.Next() {
		var b production.Batch
		if err := rows.Scan(&b.ID, &b.PlanID, &b.Number, &b.WeightKg, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) Reservation(ctx context.Context, id int64) (*production.Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, batch_id, lot_id, reserved_qty, remaining_qty, used_qty, created_at
		FROM reservations WHERE id = $1
	`, id)
	var r production.Reservation
	if err := row.Scan(&r.ID, &r.BatchID, &r.LotID, &r.ReservedQty, &r.RemainingQty, &r.UsedQty, &r.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) Reservations(ctx context.Context, batchID int64) ([]production.Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, lot_id, reserved_qty, remaining_qty, used_qty, created_at
		FROM reservations
		WHERE batch_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (s *Store) ReservationsByPlan(ctx context.Context, planID int64) ([]production.Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.batch_id, r.lot_id, r.reserved_qty, r.remaining_qty, r.used_qty, r.created_at
		FROM reservations r
		JOIN production_batches b ON b.id = r.batch_id
		WHERE b.plan_id = $1
		ORDER BY r.id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (s *Store) TemplateItems(ctx context.Context, templateID int64) ([]recipes.Item, error) {
	// Пустой черновик рецепта и отсутствующий шаблон — разные случаи:
	// для существующего шаблона без позиций возвращаем не-nil пустой срез.
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM recipe_templates WHERE id = $1)
	`, templateID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.template_id, i.material_type_id, t.name, i.percentage
		FROM recipe_items i
		JOIN material_types t ON t.id = i.material_type_id
		WHERE i.template_id = $1
		ORDER BY i.id
	`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []recipes.Item{}
	for rows.Next() {
		var it recipes.Item
		if err := rows.Scan(&it.ID, &it.TemplateID, &it.MaterialTypeID, &it.TypeName, &it.Percentage); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) MaterialTypes(ctx context.Context) ([]materials.Type, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, created_at FROM material_types ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []materials.Type
	for rows.Next() {
		var t materials.Type
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Lot(ctx context.Context, id int64) (*materials.Lot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT l.id, l.type_id, t.name, l.name, l.batch_number, l.quantity_kg,
		       l.received_at, l.expires_at, l.created_at
		FROM material_lots l
		JOIN material_types t ON t.id = l.type_id
		WHERE l.id = $1
	`, id)
	var l materials.Lot
	if err := row.Scan(
		&l.ID, &l.TypeID, &l.TypeName, &l.Name, &l.BatchNumber,
		&l.QuantityKg, &l.ReceivedAt, &l.ExpiresAt, &l.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (s *Store) LotsByType(ctx context.Context, typeID int64) ([]materials.Lot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.type_id, t.name, l.name, l.batch_number, l.quantity_kg,
		       l.received_at, l.expires_at, l.created_at
		FROM material_lots l
		JOIN material_types t ON t.id = l.type_id
		WHERE l.type_id = $1
		ORDER BY l.expires_at ASC NULLS LAST, l.id ASC
	`, typeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

func (s *Store) AllLots(ctx context.Context) ([]materials.Lot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.type_id, t.name, l.name, l.batch_number, l.quantity_kg,
		       l.received_at, l.expires_at, l.created_at
		FROM material_lots l
		JOIN material_types t ON t.id = l.type_id
		ORDER BY l.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

func (s *Store) ReservedQty(ctx context.Context, lotID int64) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(r.used_qty), 0)
		FROM reservations r
		JOIN production_batches b ON b.id = r.batch_id
		JOIN production_plans p ON p.id = b.plan_id
		WHERE r.lot_id = $1 AND p.status <> 'completed'
	`, lotID).Scan(&total)
	return total, err
}

func (s *Store) MonthlyPlans(ctx context.Context, year int) ([]planning.MonthlyPlan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, year, month, product_id, template_id, quantity_kg, created_at
		FROM monthly_plans
		WHERE year = $1
		ORDER BY month, product_id
	`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []planning.MonthlyPlan
	for rows.Next() {
		var p planning.MonthlyPlan
		var month int
		if err := rows.Scan(&p.ID, &p.Year, &month, &p.ProductID, &p.TemplateID, &p.QuantityKg, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Month = time.Month(month)
		out = append(out, p)
	}
	return out, rows.Err()
}

/* Запись: каждая мутация — одна транзакция */

func (s *Store) CreateBatch(ctx context.Context, b production.Batch, res []production.Reservation, audit production.AuditEntry) (*production.Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockAndCheckFree(ctx, tx, res); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO production_batches (plan_id, number, weight_kg)
		VALUES ($1,$2,$3)
		RETURNING id, plan_id, number, weight_kg, created_at
	`, b.PlanID, b.Number, b.WeightKg)
	var out production.Batch
	if err := row.Scan(&out.ID, &out.PlanID, &out.Number, &out.WeightKg, &out.CreatedAt); err != nil {
		return nil, err
	}

	for _, r := range res {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations (batch_id, lot_id, reserved_qty, remaining_qty, used_qty)
			VALUES ($1,$2,$3,$4,$5)
		`, out.ID, r.LotID, r.ReservedQty, r.RemainingQty, r.UsedQty); err != nil {
			return nil, err
		}
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	return &out, tx.Commit(ctx)
}

func (s *Store) AddReservation(ctx context.Context, res production.Reservation, audit production.AuditEntry) (*production.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockAndCheckFree(ctx, tx, []production.Reservation{res}); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO reservations (batch_id, lot_id, reserved_qty, remaining_qty, used_qty)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, batch_id, lot_id, reserved_qty, remaining_qty, used_qty, created_at
	`, res.BatchID, res.LotID, res.ReservedQty, res.RemainingQty, res.UsedQty)
	var out production.Reservation
	if err := row.Scan(&out.ID, &out.BatchID, &out.LotID, &out.ReservedQty, &out.RemainingQty, &out.UsedQty, &out.CreatedAt); err != nil {
		return nil, err
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	return &out, tx.Commit(ctx)
}

func (s *Store) DeleteReservation(ctx context.Context, reservationID int64, audit production.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, reservationID); err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteBatch(ctx context.Context, batchID int64, audit production.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE batch_id = $1`, batchID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM production_batches WHERE id = $1`, batchID); err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteBatches(ctx context.Context, planID int64, audit production.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM reservations
		WHERE batch_id IN (SELECT id FROM production_batches WHERE plan_id = $1)
	`, planID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM production_batches WHERE plan_id = $1`, planID); err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) SetPlanStatus(ctx context.Context, planID int64, status production.PlanStatus, audit production.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE production_plans SET status = $2 WHERE id = $1
	`, planID, status); err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompletePlan — единственная точка физического списания. Блокирует
// затронутые партии, списывает по каждому резерву с отсечкой в ноль,
// ставит статус и пишет аудит; всё — одной транзакцией.
func (s *Store) CompletePlan(ctx context.Context, planID int64, deductions []engine.StockMove, audit production.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockLots(ctx, tx, deductions); err != nil {
		return err
	}
	for _, d := range deductions {
		if _, err := tx.Exec(ctx, `
			UPDATE material_lots
			SET quantity_kg = GREATEST(0, quantity_kg - $2)
			WHERE id = $1
		`, d.LotID, d.Qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE production_plans SET status = 'completed' WHERE id = $1
	`, planID); err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) UndoCompletion(ctx context.Context, planID int64, restores []engine.StockMove, audit production.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockLots(ctx, tx, restores); err != nil {
		return err
	}
	for _, r := range restores {
		if _, err := tx.Exec(ctx, `
			UPDATE material_lots
			SET quantity_kg = quantity_kg + $2
			WHERE id = $1
		`, r.LotID, r.Qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE production_plans SET status = 'draft' WHERE id = $1
	`, planID); err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) DeletePlan(ctx context.Context, planID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM reservations
		WHERE batch_id IN (SELECT id FROM production_batches WHERE plan_id = $1)
	`, planID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM production_batches WHERE plan_id = $1`, planID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM plan_audit WHERE plan_id = $1`, planID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM production_plans WHERE id = $1`, planID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockAndCheckFree — повторная проверка свободного остатка под
// построчными блокировками партий. Чтения движка при распределении
// шли без блокировок и к моменту записи могли устареть: параллельная
// транзакция могла зарезервировать те же партии. После захвата
// блокировок резервы перечитываются уже по зафиксированным данным.
func lockAndCheckFree(ctx context.Context, tx pgx.Tx, res []production.Reservation) error {
	if len(res) == 0 {
		return nil
	}
	need := map[int64]float64{}
	for _, r := range res {
		need[r.LotID] += r.UsedQty
	}
	ids := make([]int64, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}

	quantity := map[int64]float64{}
	rows, err := tx.Query(ctx, `
		SELECT id, quantity_kg FROM material_lots
		WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id int64
		var q float64
		if err := rows.Scan(&id, &q); err != nil {
			rows.Close()
			return err
		}
		quantity[id] = q
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	reserved := map[int64]float64{}
	rows, err = tx.Query(ctx, `
		SELECT r.lot_id, COALESCE(SUM(r.used_qty), 0)
		FROM reservations r
		JOIN production_batches b ON b.id = r.batch_id
		JOIN production_plans p ON p.id = b.plan_id
		WHERE r.lot_id = ANY($1) AND p.status <> 'completed'
		GROUP BY r.lot_id
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id int64
		var q float64
		if err := rows.Scan(&id, &q); err != nil {
			rows.Close()
			return err
		}
		reserved[id] = q
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for lotID, qty := range need {
		free := quantity[lotID] - reserved[lotID]
		if free < 0 {
			free = 0
		}
		if qty > free+1e-9 {
			return engine.InsufficientLotError{LotID: lotID, AvailableKg: free}
		}
	}
	return nil
}

// lockLots берёт построчные блокировки партий в порядке возрастания id,
// чтобы параллельные завершение и отмена не взаимоблокировались.
func lockLots(ctx context.Context, tx pgx.Tx, moves []engine.StockMove) error {
	if len(moves) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(moves))
	for _, m := range moves {
		ids = append(ids, m.LotID)
	}
	rows, err := tx.Query(ctx, `
		SELECT id FROM material_lots WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, ids)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

func appendAudit(ctx context.Context, tx pgx.Tx, e production.AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO plan_audit (plan_id, created_at, actor, event_kind, payload)
		VALUES ($1,$2,$3,$4,$5)
	`, e.PlanID, e.CreatedAt, e.Actor, e.EventKind, e.Payload)
	return err
}

func scanLots(rows pgx.Rows) ([]materials.Lot, error) {
	var out []materials.Lot
	for rows.Next() {
		var l materials.Lot
		if err := rows.Scan(
			&l.ID, &l.TypeID, &l.TypeName, &l.Name, &l.BatchNumber,
			&l.QuantityKg, &l.ReceivedAt, &l.ExpiresAt, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanReservations(rows pgx.Rows) ([]production.Reservation, error) {
	var out []production.Reservation
	for rows.Next() {
		var r production.Reservation
		if err := rows.Scan(&r.ID, &r.BatchID, &r.LotID, &r.ReservedQty, &r.RemainingQty, &r.UsedQty, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
