package planning

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// Upsert — один план на (год, месяц, продукт).
func (r *Repo) Upsert(ctx context.Context, p MonthlyPlan) (*MonthlyPlan, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO monthly_plans (year, month, product_id, template_id, quantity_kg)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (year, month, product_id)
		DO UPDATE SET template_id = EXCLUDED.template_id, quantity_kg = EXCLUDED.quantity_kg
		RETURNING id, year, month, product_id, template_id, quantity_kg, created_at
	`, p.Year, int(p.Month), p.ProductID, p.TemplateID, p.QuantityKg)

	var out MonthlyPlan
	var month int
	if err := row.Scan(&out.ID, &out.Year, &month, &out.ProductID, &out.TemplateID, &out.QuantityKg, &out.CreatedAt); err != nil {
		return nil, err
	}
	out.Month = time.Month(month)
	return &out, nil
}

func (r *Repo) ListByYear(ctx context.Context, year int) ([]MonthlyPlan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, year, month, product_id, template_id, quantity_kg, created_at
		FROM monthly_plans
		WHERE year = $1
		ORDER BY month, product_id
	`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlans(rows)
}

func (r *Repo) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM monthly_plans WHERE id = $1`, id)
	return err
}

func scanPlans(rows pgx.Rows) ([]MonthlyPlan, error) {
	var out []MonthlyPlan
	for rows.Next() {
		var p MonthlyPlan
		var month int
		if err := rows.Scan(&p.ID, &p.Year, &month, &p.ProductID, &p.TemplateID, &p.QuantityKg, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Month = time.Month(month)
		out = append(out, p)
	}
	return out, rows.Err()
}
