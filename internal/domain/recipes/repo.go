package recipes

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) CreateTemplate(ctx context.Context, productID int64, name string) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO recipe_templates (product_id, name, status)
		VALUES ($1,$2,'draft')
		RETURNING id, product_id, name, status, created_at
	`, productID, name)
	var t Template
	if err := row.Scan(&t.ID, &t.ProductID, &t.Name, &t.Status, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repo) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, product_id, name, status, created_at
		FROM recipe_templates WHERE id = $1
	`, id)
	var t Template
	if err := row.Scan(&t.ID, &t.ProductID, &t.Name, &t.Status, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	items, err := r.Items(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Items = items
	return &t, nil
}

// ListSavedByProduct — только сохранённые рецептуры: черновики
// нельзя использовать в планах производства.
func (r *Repo) ListSavedByProduct(ctx context.Context, productID int64) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, name, status, created_at
		FROM recipe_templates
		WHERE product_id = $1 AND status = 'saved'
		ORDER BY name
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.ProductID, &t.Name, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) Items(ctx context.Context, templateID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
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

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TemplateID, &it.MaterialTypeID, &it.TypeName, &it.Percentage); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// AddItem добавляет позицию в черновик рецептуры.
func (r *Repo) AddItem(ctx context.Context, templateID, materialTypeID int64, pct decimal.Decimal) (*Item, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status Status
	if err := tx.QueryRow(ctx, `
		SELECT status FROM recipe_templates WHERE id = $1 FOR UPDATE
	`, templateID).Scan(&status); err != nil {
		return nil, err
	}
	if status == StatusSaved {
		return nil, TemplateSavedError{TemplateID: templateID}
	}

	items, err := itemsTx(ctx, tx, templateID)
	if err != nil {
		return nil, err
	}
	if err := ValidateNewItem(items, materialTypeID, pct); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO recipe_items (template_id, material_type_id, percentage)
		VALUES ($1,$2,$3)
		RETURNING id, template_id, material_type_id, percentage
	`, templateID, materialTypeID, pct)
	var it Item
	if err := row.Scan(&it.ID, &it.TemplateID, &it.MaterialTypeID, &it.Percentage); err != nil {
		return nil, err
	}
	return &it, tx.Commit(ctx)
}

func (r *Repo) RemoveItem(ctx context.Context, templateID, itemID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status Status
	if err := tx.QueryRow(ctx, `
		SELECT status FROM recipe_templates WHERE id = $1 FOR UPDATE
	`, templateID).Scan(&status); err != nil {
		return err
	}
	if status == StatusSaved {
		return TemplateSavedError{TemplateID: templateID}
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM recipe_items WHERE id = $1 AND template_id = $2
	`, itemID, templateID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Save валидирует состав и переводит рецептуру draft → saved.
// Перевод терминальный: дальнейшие изменения состава отклоняются.
func (r *Repo) Save(ctx context.Context, templateID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status Status
	if err := tx.QueryRow(ctx, `
		SELECT status FROM recipe_templates WHERE id = $1 FOR UPDATE
	`, templateID).Scan(&status); err != nil {
		return err
	}
	if status == StatusSaved {
		return TemplateSavedError{TemplateID: templateID}
	}

	items, err := itemsTx(ctx, tx, templateID)
	if err != nil {
		return err
	}
	if err := ValidateForSave(templateID, items); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE recipe_templates SET status = 'saved' WHERE id = $1
	`, templateID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func itemsTx(ctx context.Context, tx pgx.Tx, templateID int64) ([]Item, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, template_id, material_type_id, percentage
		FROM recipe_items
		WHERE template_id = $1
		ORDER BY id
	`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TemplateID, &it.MaterialTypeID, &it.Percentage); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
