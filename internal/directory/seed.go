package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/bakehouse/internal/idgen"
)

// SeedResult counts the rows a seed run inserted.
type SeedResult struct {
	Roles       int `json:"roles"`
	Departments int `json:"departments"`
}

// Seed inserts the default roles and departments that are not present yet.
// Running it again on a seeded namespace inserts nothing.
func Seed(ctx context.Context, st Store) (SeedResult, error) {
	var res SeedResult
	now := time.Now()
	for _, name := range DefaultRoles {
		created, err := st.EnsureRole(ctx, &Role{ID: idgen.New(), Name: name, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return res, fmt.Errorf("seed role %q: %w", name, err)
		}
		if created {
			res.Roles++
		}
	}
	for _, name := range DefaultDepartments {
		created, err := st.EnsureDepartment(ctx, &Department{ID: idgen.New(), Name: name, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return res, fmt.Errorf("seed department %q: %w", name, err)
		}
		if created {
			res.Departments++
		}
	}
	return res, nil
}
