package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tessera.org/internal/auth"
)

const userSelect = `
	select u.id, u.email_address, u.full_name, u.status, coalesce(u.institution_id, ''), u.created_at, u.updated_at,
	       p.id, p.value, p.forgot_at, p.created_at, p.updated_at,
	       la.id, la.last_login_at
	from users u
	left join user_passwords p on p.user_id = u.id
	left join user_login_attempts la on la.user_id = u.id`

type UserStore struct{ s *Store }

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var (
		u           auth.User
		updated     sql.NullTime
		pwID        sql.NullString
		pwValue     sql.NullString
		pwForgot    sql.NullTime
		pwCreated   sql.NullTime
		pwUpdated   sql.NullTime
		attemptID   sql.NullString
		attemptLast sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.EmailAddress, &u.FullName, &u.Status, &u.InstitutionID, &u.CreatedAt, &updated,
		&pwID, &pwValue, &pwForgot, &pwCreated, &pwUpdated,
		&attemptID, &attemptLast,
	); err != nil {
		return nil, err
	}
	u.UpdatedAt = timePtr(updated)
	if pwID.Valid {
		u.Password = &auth.Password{
			ID:        pwID.String,
			Value:     pwValue.String,
			ForgotAt:  timePtr(pwForgot),
			CreatedAt: pwCreated.Time.UTC(),
			UpdatedAt: timePtr(pwUpdated),
		}
	}
	if attemptID.Valid {
		u.LoginAttempt = &auth.LoginAttempt{ID: attemptID.String, LastLoginAt: timePtr(attemptLast)}
	}
	return &u, nil
}

func (v *UserStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return v.findOne(ctx, userSelect+` where u.id = $1`, id)
}

func (v *UserStore) FindByEmailAddress(ctx context.Context, email string) (*auth.User, error) {
	return v.findOne(ctx, userSelect+` where u.email_address = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (v *UserStore) FindByPasswordID(ctx context.Context, passwordID string) (*auth.User, error) {
	return v.findOne(ctx, userSelect+` where p.id = $1`, passwordID)
}

func (v *UserStore) ExistsByEmailAddress(ctx context.Context, email string) (bool, error) {
	if v.s.db == nil {
		return false, errNoDB
	}
	var exists bool
	err := v.s.db.QueryRowContext(ctx, `select exists(select 1 from users where email_address = $1)`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&exists)
	return exists, err
}

func (v *UserStore) findOne(ctx context.Context, query string, arg any) (*auth.User, error) {
	if v.s.db == nil {
		return nil, errNoDB
	}
	user, err := scanUser(v.s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	users := []auth.User{*user}
	if err := v.attachRoles(ctx, users); err != nil {
		return nil, err
	}
	return &users[0], nil
}

func (v *UserStore) FindAll(ctx context.Context, uf auth.UserFilter, page auth.Pageable) (auth.Page[auth.User], error) {
	if v.s.db == nil {
		return auth.Page[auth.User]{}, errNoDB
	}
	var f filter
	if uf.FullName != "" {
		f.add(`lower(u.full_name) like $%d escape '\'`, likePattern(uf.FullName))
	}
	if uf.EmailAddress != "" {
		f.add(`u.email_address like $%d escape '\'`, likePattern(uf.EmailAddress))
	}
	if len(uf.Statuses) > 0 {
		statuses := make([]string, 0, len(uf.Statuses))
		for _, st := range uf.Statuses {
			statuses = append(statuses, string(st))
		}
		f.add("u.status = any($%d)", statuses)
	}
	if uf.InstitutionID != "" {
		f.add("u.institution_id = $%d", uf.InstitutionID)
	}

	var total int64
	if err := v.s.db.QueryRowContext(ctx, `select count(*) from users u`+f.where(), f.args...).Scan(&total); err != nil {
		return auth.Page[auth.User]{}, err
	}
	suffix, args := f.page(page)
	rows, err := v.s.db.QueryContext(ctx, userSelect+f.where()+` order by u.created_at desc`+suffix, args...)
	if err != nil {
		return auth.Page[auth.User]{}, err
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return auth.Page[auth.User]{}, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return auth.Page[auth.User]{}, err
	}
	if err := v.attachRoles(ctx, users); err != nil {
		return auth.Page[auth.User]{}, err
	}
	return auth.NewPage(users, page, total), nil
}

// attachRoles loads role assignments, then the roles with their permissions.
func (v *UserStore) attachRoles(ctx context.Context, users []auth.User) error {
	if len(users) == 0 {
		return nil
	}
	userIDs := make([]string, 0, len(users))
	for i := range users {
		userIDs = append(userIDs, users[i].ID)
		users[i].Roles = []auth.Role{}
	}
	rows, err := v.s.db.QueryContext(ctx, `select user_id, role_id from user_roles where user_id = any($1) order by role_id`, userIDs)
	if err != nil {
		return err
	}
	assigned := make(map[string][]string)
	var roleIDs []string
	seen := make(map[string]struct{})
	for rows.Next() {
		var userID, roleID string
		if err := rows.Scan(&userID, &roleID); err != nil {
			rows.Close()
			return err
		}
		assigned[userID] = append(assigned[userID], roleID)
		if _, ok := seen[roleID]; !ok {
			seen[roleID] = struct{}{}
			roleIDs = append(roleIDs, roleID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(roleIDs) == 0 {
		return nil
	}

	roles, err := v.s.Roles().FindAllByIDs(ctx, roleIDs)
	if err != nil {
		return err
	}
	byID := make(map[string]auth.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	for i := range users {
		for _, rid := range assigned[users[i].ID] {
			if r, ok := byID[rid]; ok {
				users[i].Roles = append(users[i].Roles, r)
			}
		}
	}
	return nil
}

// Save upserts the user, its password and login attempt, and replaces role links.
func (v *UserStore) Save(ctx context.Context, user *auth.User) error {
	return v.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into users (id, email_address, full_name, status, institution_id, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7)
			on conflict (id) do update
			set email_address = excluded.email_address,
			    full_name = excluded.full_name,
			    status = excluded.status,
			    institution_id = excluded.institution_id,
			    updated_at = excluded.updated_at
		`, user.ID, strings.ToLower(user.EmailAddress), user.FullName, string(user.Status),
			nullIfEmpty(user.InstitutionID), user.CreatedAt.UTC(), nullTime(user.UpdatedAt)); err != nil {
			return mapWriteError(err)
		}
		if pw := user.Password; pw != nil {
			if _, err := tx.ExecContext(ctx, `
				insert into user_passwords (id, user_id, value, forgot_at, created_at, updated_at)
				values ($1, $2, $3, $4, $5, $6)
				on conflict (user_id) do update
				set id = excluded.id,
				    value = excluded.value,
				    forgot_at = excluded.forgot_at,
				    created_at = excluded.created_at,
				    updated_at = excluded.updated_at
			`, pw.ID, user.ID, pw.Value, nullTime(pw.ForgotAt), pw.CreatedAt.UTC(), nullTime(pw.UpdatedAt)); err != nil {
				return mapWriteError(err)
			}
		}
		if la := user.LoginAttempt; la != nil {
			if _, err := tx.ExecContext(ctx, `
				insert into user_login_attempts (id, user_id, last_login_at)
				values ($1, $2, $3)
				on conflict (user_id) do update
				set last_login_at = excluded.last_login_at
			`, la.ID, user.ID, nullTime(la.LastLoginAt)); err != nil {
				return mapWriteError(err)
			}
		}
		if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, user.ID); err != nil {
			return err
		}
		for _, roleID := range user.RoleIDs() {
			if _, err := tx.ExecContext(ctx, `
				insert into user_roles (user_id, role_id) values ($1, $2)
				on conflict do nothing
			`, user.ID, roleID); err != nil {
				return mapWriteError(err)
			}
		}
		return nil
	})
}
