package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/jackc/pgx/v5"
)

type permissionRepo struct {
	q database.DBTX
}

func (r *permissionRepo) GetRolePermissions(ctx context.Context, role string) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT permission FROM role_permissions WHERE role = $1 ORDER BY permission`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}

	perms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan role permissions: %w", err)
	}
	return perms, nil
}

func (r *permissionRepo) GrantPermission(ctx context.Context, role, permission string) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO role_permissions (role, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		role, permission)
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}
