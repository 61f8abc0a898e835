package pg

import (
	"context"
	"database/sql"
	"errors"

	"tessera.org/internal/auth"
)

const roleColumns = `r.id, r.name, r.status, coalesce(r.institution_id, ''), r.created_at, r.updated_at`

type RoleStore struct{ s *Store }

func scanRole(row interface{ Scan(...any) error }) (auth.Role, error) {
	var (
		role    auth.Role
		updated sql.NullTime
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Status, &role.InstitutionID, &role.CreatedAt, &updated); err != nil {
		return auth.Role{}, err
	}
	role.UpdatedAt = timePtr(updated)
	return role, nil
}

func (v *RoleStore) FindByID(ctx context.Context, id string) (*auth.Role, error) {
	return v.findOne(ctx, `select `+roleColumns+` from roles r where r.id = $1`, id)
}

func (v *RoleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return v.findOne(ctx, `select `+roleColumns+` from roles r where r.name = $1`, name)
}

func (v *RoleStore) findOne(ctx context.Context, query string, arg any) (*auth.Role, error) {
	if v.s.db == nil {
		return nil, errNoDB
	}
	role, err := scanRole(v.s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	roles := []auth.Role{role}
	if err := attachPermissions(ctx, v.s.db, roles); err != nil {
		return nil, err
	}
	return &roles[0], nil
}

func (v *RoleStore) FindAllByIDs(ctx context.Context, ids []string) ([]auth.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return v.list(ctx, v.s.db, `select `+roleColumns+` from roles r where r.id = any($1) order by r.name`, ids)
}

func (v *RoleStore) FindAllActives(ctx context.Context, institutionID string) ([]auth.Role, error) {
	var f filter
	f.add("r.status = $%d", string(auth.RoleStatusActive))
	if institutionID != "" {
		f.add("r.institution_id = $%d", institutionID)
	}
	return v.list(ctx, v.s.db, `select `+roleColumns+` from roles r`+f.where()+` order by r.name`, f.args...)
}

func (v *RoleStore) FindAll(ctx context.Context, rf auth.RoleFilter, page auth.Pageable) (auth.Page[auth.Role], error) {
	if v.s.db == nil {
		return auth.Page[auth.Role]{}, errNoDB
	}
	var f filter
	if rf.Name != "" {
		f.add(`lower(r.name) like $%d escape '\'`, likePattern(rf.Name))
	}
	if len(rf.Statuses) > 0 {
		statuses := make([]string, 0, len(rf.Statuses))
		for _, st := range rf.Statuses {
			statuses = append(statuses, string(st))
		}
		f.add("r.status = any($%d)", statuses)
	}
	if rf.InstitutionID != "" {
		f.add("r.institution_id = $%d", rf.InstitutionID)
	}

	var total int64
	if err := v.s.db.QueryRowContext(ctx, `select count(*) from roles r`+f.where(), f.args...).Scan(&total); err != nil {
		return auth.Page[auth.Role]{}, err
	}
	suffix, args := f.page(page)
	roles, err := v.list(ctx, v.s.db, `select `+roleColumns+` from roles r`+f.where()+` order by r.created_at desc`+suffix, args...)
	if err != nil {
		return auth.Page[auth.Role]{}, err
	}
	return auth.NewPage(roles, page, total), nil
}

func (v *RoleStore) list(ctx context.Context, q queryer, query string, args ...any) ([]auth.Role, error) {
	if v.s.db == nil {
		return nil, errNoDB
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachPermissions(ctx, q, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (v *RoleStore) IsRoleUsing(ctx context.Context, id string) (bool, error) {
	if v.s.db == nil {
		return false, errNoDB
	}
	var using bool
	err := v.s.db.QueryRowContext(ctx, `select exists(select 1 from user_roles where role_id = $1)`, id).Scan(&using)
	return using, err
}

// Save upserts the role and replaces its permission links.
func (v *RoleStore) Save(ctx context.Context, role *auth.Role) error {
	return v.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into roles (id, name, status, institution_id, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (id) do update
			set name = excluded.name,
			    status = excluded.status,
			    institution_id = excluded.institution_id,
			    updated_at = excluded.updated_at
		`, role.ID, role.Name, string(role.Status), nullIfEmpty(role.InstitutionID), role.CreatedAt.UTC(), nullTime(role.UpdatedAt)); err != nil {
			return mapWriteError(err)
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, role.ID); err != nil {
			return err
		}
		for _, p := range role.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_id, permission_id) values ($1, $2)
				on conflict do nothing
			`, role.ID, p.ID); err != nil {
				return mapWriteError(err)
			}
		}
		return nil
	})
}

// attachPermissions loads permissions for roles in one query.
func attachPermissions(ctx context.Context, q queryer, roles []auth.Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]string, 0, len(roles))
	index := make(map[string][]int, len(roles))
	for i, r := range roles {
		ids = append(ids, r.ID)
		index[r.ID] = append(index[r.ID], i)
		roles[i].Permissions = []auth.Permission{}
	}
	rows, err := q.QueryContext(ctx, `
		select rp.role_id, p.id, p.name, p.category, p.is_super
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = any($1)
		order by p.name
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			roleID string
			p      auth.Permission
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Category, &p.IsSuper); err != nil {
			return err
		}
		for _, i := range index[roleID] {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return rows.Err()
}

type PermissionStore struct{ s *Store }

const permissionSelect = `select p.id, p.name, p.category, p.is_super from permissions p`

func (v *PermissionStore) FindAll(ctx context.Context) ([]auth.Permission, error) {
	return v.list(ctx, permissionSelect+` order by p.name`)
}

func (v *PermissionStore) FindAllNonSuper(ctx context.Context) ([]auth.Permission, error) {
	return v.list(ctx, permissionSelect+` where not p.is_super order by p.name`)
}

func (v *PermissionStore) FindAllByIDs(ctx context.Context, ids []string) ([]auth.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return v.list(ctx, permissionSelect+` where p.id = any($1) order by p.name`, ids)
}

func (v *PermissionStore) list(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	if v.s.db == nil {
		return nil, errNoDB
	}
	rows, err := v.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.IsSuper); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
