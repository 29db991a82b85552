package production

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPlanNotEditable — параметры плана правятся только в черновике.
var ErrPlanNotEditable = errors.New("production: only draft plans can be edited")

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// CreatePlan создаёт план в статусе draft. Утверждение — через движок,
// там выполняется проверка наличия сырья.
func (r *Repo) CreatePlan(ctx context.Context, productID, templateID int64, quantityKg float64, batchNumber string) (*Plan, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO production_plans (product_id, template_id, quantity_kg, batch_number, status)
		VALUES ($1,$2,$3,$4,'draft')
		RETURNING id, product_id, template_id, quantity_kg, batch_number, status, created_at
	`, productID, templateID, quantityKg, batchNumber)

	var p Plan
	if err := row.Scan(&p.ID, &p.ProductID, &p.TemplateID, &p.QuantityKg, &p.BatchNumber, &p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT p.id, p.product_id, pr.name, p.template_id, p.quantity_kg, p.batch_number, p.status, p.created_at
		FROM production_plans p
		JOIN products pr ON pr.id = p.product_id
		WHERE p.id = $1
	`, id)
	var p Plan
	if err := row.Scan(&p.ID, &p.ProductID, &p.ProductName, &p.TemplateID, &p.QuantityKg, &p.BatchNumber, &p.Status, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ListPlans(ctx context.Context, status *PlanStatus) ([]Plan, error) {
	q := `
		SELECT p.id, p.product_id, pr.name, p.template_id, p.quantity_kg, p.batch_number, p.status, p.created_at
		FROM production_plans p
		JOIN products pr ON pr.id = p.product_id
	`
	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = r.pool.Query(ctx, q+` WHERE p.status = $1 ORDER BY p.created_at DESC`, *status)
	} else {
		rows, err = r.pool.Query(ctx, q+` ORDER BY p.created_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.ProductID, &p.ProductName, &p.TemplateID, &p.QuantityKg, &p.BatchNumber, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateQuantity меняет целевое количество плана-черновика и пишет
// старое и новое значение в журнал.
func (r *Repo) UpdateQuantity(ctx context.Context, planID int64, quantityKg float64, actor string) error {
	return r.editDraft(ctx, planID, actor, EventQuantityChanged, func(tx pgx.Tx, old Plan) (map[string]any, error) {
		if _, err := tx.Exec(ctx, `
			UPDATE production_plans SET quantity_kg = $2 WHERE id = $1
		`, planID, quantityKg); err != nil {
			return nil, err
		}
		return map[string]any{"from_kg": old.QuantityKg, "to_kg": quantityKg}, nil
	})
}

// UpdateBatchNumber переименовывает план-черновик.
func (r *Repo) UpdateBatchNumber(ctx context.Context, planID int64, batchNumber, actor string) error {
	return r.editDraft(ctx, planID, actor, EventLabelChanged, func(tx pgx.Tx, old Plan) (map[string]any, error) {
		if _, err := tx.Exec(ctx, `
			UPDATE production_plans SET batch_number = $2 WHERE id = $1
		`, planID, batchNumber); err != nil {
			return nil, err
		}
		return map[string]any{"from": old.BatchNumber, "to": batchNumber}, nil
	})
}

// editDraft — общий каркас правки черновика: блокировка строки плана,
// проверка статуса, изменение и запись в журнал одной транзакцией.
func (r *Repo) editDraft(ctx context.Context, planID int64, actor, eventKind string, apply func(pgx.Tx, Plan) (map[string]any, error)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var old Plan
	err = tx.QueryRow(ctx, `
		SELECT id, quantity_kg, batch_number, status
		FROM production_plans WHERE id = $1 FOR UPDATE
	`, planID).Scan(&old.ID, &old.QuantityKg, &old.BatchNumber, &old.Status)
	if err != nil {
		return err
	}
	if !old.Status.Editable() {
		return ErrPlanNotEditable
	}

	payload, err := apply(tx, old)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO plan_audit (plan_id, actor, event_kind, payload)
		VALUES ($1,$2,$3,$4)
	`, planID, actor, eventKind, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Batches(ctx context.Context, planID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, plan_id, number, weight_kg, created_at
		FROM production_batches
		WHERE plan_id = $1
		ORDER BY id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.PlanID, &b.Number, &b.WeightKg, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) Reservations(ctx context.Context, batchID int64) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, batch_id, lot_id, reserved_qty, remaining_qty, used_qty, created_at
		FROM reservations
		WHERE batch_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.BatchID, &res.LotID, &res.ReservedQty, &res.RemainingQty, &res.UsedQty, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Audit возвращает журнал плана от новых записей к старым.
func (r *Repo) Audit(ctx context.Context, planID int64) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, plan_id, created_at, actor, event_kind, payload
		FROM plan_audit
		WHERE plan_id = $1
		ORDER BY created_at DESC, id DESC
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.PlanID, &e.CreatedAt, &e.Actor, &e.EventKind, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
