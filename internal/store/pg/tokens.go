package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"tessera.org/internal/auth"
	"tessera.org/internal/parameter"
)

type InvalidTokenStore struct{ s *Store }

func (v *InvalidTokenStore) FindByTokenID(ctx context.Context, tokenID string) (*auth.InvalidToken, error) {
	if v.s.db == nil {
		return nil, errNoDB
	}
	var tok auth.InvalidToken
	err := v.s.db.QueryRowContext(ctx, `
		select id, token_id, created_at from invalid_tokens where token_id = $1
	`, tokenID).Scan(&tok.ID, &tok.TokenID, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// SaveAll records every token in one transaction. Already recorded ids are kept as is.
func (v *InvalidTokenStore) SaveAll(ctx context.Context, tokens []auth.InvalidToken) error {
	if len(tokens) == 0 {
		return nil
	}
	return v.s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tokens {
			if _, err := tx.ExecContext(ctx, `
				insert into invalid_tokens (token_id, created_at) values ($1, $2)
				on conflict (token_id) do nothing
			`, t.TokenID, t.CreatedAt.UTC()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *InvalidTokenStore) DeleteAllCreatedBefore(ctx context.Context, threshold time.Time) (int64, error) {
	if v.s.db == nil {
		return 0, errNoDB
	}
	res, err := v.s.db.ExecContext(ctx, `delete from invalid_tokens where created_at < $1`, threshold.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type ParameterStore struct{ s *Store }

func (v *ParameterStore) FindByName(ctx context.Context, name string) (parameter.Parameter, error) {
	if v.s.db == nil {
		return parameter.Parameter{}, errNoDB
	}
	var p parameter.Parameter
	err := v.s.db.QueryRowContext(ctx, `
		select id, name, definition, created_at from parameters where name = $1
	`, name).Scan(&p.ID, &p.Name, &p.Definition, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return parameter.Parameter{}, parameter.ErrNotExist
	}
	return p, err
}

func (v *ParameterStore) FindAllByPrefix(ctx context.Context, prefix string) ([]parameter.Parameter, error) {
	if v.s.db == nil {
		return nil, errNoDB
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	rows, err := v.s.db.QueryContext(ctx, `
		select id, name, definition, created_at from parameters
		where name like $1 escape '\'
		order by name
	`, r.Replace(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []parameter.Parameter
	for rows.Next() {
		var p parameter.Parameter
		if err := rows.Scan(&p.ID, &p.Name, &p.Definition, &p.CreatedAt); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, rows.Err()
}
