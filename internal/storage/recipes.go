package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pq "github.com/lib/pq"

	"recipebox/pkg/types"
)

// SavedRecipe is a recipe row owned by a user, with provenance attached.
type SavedRecipe struct {
	ID string `json:"id"`
	types.Recipe
	Macros       *types.Macros      `json:"macros,omitempty"`
	IsPinned     bool               `json:"is_pinned"`
	UserID       string             `json:"user_id"`
	SourceURL    string             `json:"source_url,omitempty"`
	ImportMethod types.ImportMethod `json:"import_method,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// RecipeListParams controls pagination and filtering.
type RecipeListParams struct {
	Page     int
	PageSize int
	Search   string
	Tag      string
}

// RecipeListResult wraps recipes with pagination metadata.
type RecipeListResult struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []SavedRecipe `json:"items"`
}

// SaveRecipe inserts the recipe and links its tags in one transaction.
// Tag names are upserted, so concurrent saves sharing a tag both succeed.
func (s *Store) SaveRecipe(ctx context.Context, userID string, recipe types.Recipe, sourceURL string, method types.ImportMethod) (*SavedRecipe, error) {
	ingredients, err := json.Marshal(recipe.Ingredients)
	if err != nil {
		return nil, fmt.Errorf("encode ingredients: %w", err)
	}
	instructions, err := json.Marshal(recipe.Instructions)
	if err != nil {
		return nil, fmt.Errorf("encode instructions: %w", err)
	}

	saved := &SavedRecipe{
		ID:           uuid.NewString(),
		Recipe:       recipe,
		UserID:       userID,
		SourceURL:    sourceURL,
		ImportMethod: method,
		CreatedAt:    time.Now().UTC(),
	}

	err = s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		const insertRecipe = `
	        INSERT INTO recipes (id, user_id, name, description, prep_time, cook_time, total_time,
	                             servings, ingredients, instructions, source_url, import_method, created_at)
	        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
		if _, err := tx.ExecContext(ctx, insertRecipe,
			saved.ID,
			userID,
			recipe.Name,
			recipe.Description,
			recipe.PrepTime,
			recipe.CookTime,
			recipe.TotalTime,
			recipe.Servings,
			ingredients,
			instructions,
			nullIfEmpty(sourceURL),
			nullIfEmpty(string(method)),
			saved.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert recipe: %w", err)
		}

		for _, name := range recipe.Tags {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			var tagID string
			const upsertTag = `
	            INSERT INTO tags (id, name) VALUES ($1, $2)
	            ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	            RETURNING id`
			if err := tx.QueryRowContext(ctx, upsertTag, uuid.NewString(), name).Scan(&tagID); err != nil {
				return fmt.Errorf("upsert tag %q: %w", name, err)
			}
			const linkTag = `
	            INSERT INTO recipe_tags (recipe_id, tag_id) VALUES ($1, $2)
	            ON CONFLICT DO NOTHING`
			if _, err := tx.ExecContext(ctx, linkTag, saved.ID, tagID); err != nil {
				return fmt.Errorf("link tag %q: %w", name, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ListRecipes pages through a user's recipes, optionally filtered by a
// name search or a tag.
func (s *Store) ListRecipes(ctx context.Context, userID string, params RecipeListParams) (RecipeListResult, error) {
	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	search := strings.TrimSpace(params.Search)
	tag := strings.ToLower(strings.TrimSpace(params.Tag))

	result := RecipeListResult{Page: page, PageSize: pageSize}

	where := []string{"r.user_id = $1"}
	args := []any{userID}
	if search != "" {
		args = append(args, "%"+search+"%")
		where = append(where, fmt.Sprintf("(r.name ILIKE $%d OR r.description ILIKE $%d)", len(args), len(args)))
	}
	if tag != "" {
		args = append(args, tag)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM recipe_tags rt JOIN tags t ON t.id = rt.tag_id WHERE rt.recipe_id = r.id AND t.name = $%d)", len(args)))
	}
	cond := strings.Join(where, " AND ")

	totalQuery := "SELECT COUNT(*) FROM recipes r WHERE " + cond
	listQuery := fmt.Sprintf(`
        SELECT r.id, r.user_id, r.name, r.description, r.prep_time, r.cook_time, r.total_time,
               r.servings, r.ingredients, r.instructions, r.macros, r.is_pinned,
               r.source_url, r.import_method, r.created_at,
               COALESCE(array_agg(t.name ORDER BY t.name) FILTER (WHERE t.name IS NOT NULL), '{}')
        FROM recipes r
        LEFT JOIN recipe_tags rt ON rt.recipe_id = r.id
        LEFT JOIN tags t ON t.id = rt.tag_id
        WHERE %s
        GROUP BY r.id
        ORDER BY r.is_pinned DESC, r.created_at DESC
        LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)
	listArgs := append(append([]any{}, args...), pageSize, (page-1)*pageSize)

	err := s.withRetry(ctx, func() error {
		if err := s.db.QueryRowContext(ctx, totalQuery, args...).Scan(&result.Total); err != nil {
			return fmt.Errorf("count recipes: %w", err)
		}
		rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
		if err != nil {
			return fmt.Errorf("list recipes: %w", err)
		}
		defer rows.Close()

		items := make([]SavedRecipe, 0, pageSize)
		for rows.Next() {
			item, err := scanRecipe(rows)
			if err != nil {
				return err
			}
			items = append(items, *item)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		result.Items = items
		return nil
	})
	if err != nil {
		return RecipeListResult{}, err
	}
	return result, nil
}

// GetRecipe loads one recipe by id, scoped to its owner.
func (s *Store) GetRecipe(ctx context.Context, userID, id string) (*SavedRecipe, error) {
	const query = `
        SELECT r.id, r.user_id, r.name, r.description, r.prep_time, r.cook_time, r.total_time,
               r.servings, r.ingredients, r.instructions, r.macros, r.is_pinned,
               r.source_url, r.import_method, r.created_at,
               COALESCE(array_agg(t.name ORDER BY t.name) FILTER (WHERE t.name IS NOT NULL), '{}')
        FROM recipes r
        LEFT JOIN recipe_tags rt ON rt.recipe_id = r.id
        LEFT JOIN tags t ON t.id = rt.tag_id
        WHERE r.user_id = $1 AND r.id = $2
        GROUP BY r.id`
	var recipe *SavedRecipe
	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, userID, id)
		got, err := scanRecipe(row)
		if err != nil {
			return err
		}
		recipe = got
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return recipe, nil
}

// UpdateRecipeMacros persists an AI macro estimate on a recipe, scoped to
// its owner. Re-running the estimate overwrites the previous one.
func (s *Store) UpdateRecipeMacros(ctx context.Context, userID, id string, macros types.Macros) error {
	payload, err := json.Marshal(macros)
	if err != nil {
		return fmt.Errorf("encode macros: %w", err)
	}
	const query = `UPDATE recipes SET macros = $1 WHERE user_id = $2 AND id = $3`
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, payload, userID, id)
		if err != nil {
			return fmt.Errorf("update macros: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update macros: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// TogglePinRecipe flips a recipe's pin flag and returns the updated row.
// Pinned recipes sort first in listings.
func (s *Store) TogglePinRecipe(ctx context.Context, userID, id string) (*SavedRecipe, error) {
	const query = `UPDATE recipes SET is_pinned = NOT is_pinned WHERE user_id = $1 AND id = $2`
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, userID, id)
		if err != nil {
			return fmt.Errorf("toggle pin: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("toggle pin: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRecipe(ctx, userID, id)
}

// DeleteRecipe removes one recipe by id, scoped to its owner.
func (s *Store) DeleteRecipe(ctx context.Context, userID, id string) error {
	const query = `DELETE FROM recipes WHERE user_id = $1 AND id = $2`
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, userID, id)
		if err != nil {
			return fmt.Errorf("delete recipe: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete recipe: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (*SavedRecipe, error) {
	var (
		item         SavedRecipe
		description  sql.NullString
		ingredients  []byte
		instructions []byte
		macros       []byte
		sourceURL    sql.NullString
		method       sql.NullString
		tags         []string
	)
	if err := row.Scan(
		&item.ID, &item.UserID, &item.Name, &description,
		&item.PrepTime, &item.CookTime, &item.TotalTime, &item.Servings,
		&ingredients, &instructions, &macros, &item.IsPinned,
		&sourceURL, &method, &item.CreatedAt,
		pq.Array(&tags),
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan recipe: %w", err)
	}
	item.Description = description.String
	item.SourceURL = sourceURL.String
	item.ImportMethod = types.ImportMethod(method.String)
	item.Tags = tags
	if err := json.Unmarshal(ingredients, &item.Ingredients); err != nil {
		return nil, fmt.Errorf("decode ingredients: %w", err)
	}
	if err := json.Unmarshal(instructions, &item.Instructions); err != nil {
		return nil, fmt.Errorf("decode instructions: %w", err)
	}
	if len(macros) > 0 {
		item.Macros = &types.Macros{}
		if err := json.Unmarshal(macros, item.Macros); err != nil {
			return nil, fmt.Errorf("decode macros: %w", err)
		}
	}
	return &item, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
