package sqlite

import (
	"context"
	"encoding/json"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

func addDependency(ctx context.Context, x execer, dep *types.Dependency) error {
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = nowUTC()
	}
	meta := "{}"
	if dep.Gate != nil {
		b, err := json.Marshal(dep.Gate)
		if err != nil {
			return opserr.Wrap("dependency.add", opserr.Storage, err, "marshal gate metadata")
		}
		meta = string(b)
	}
	_, err := x.ExecContext(ctx, `
		INSERT INTO dependencies (blocked_id, blocker_id, type, created_at, created_by, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, dep.Blocked, dep.Blocker, string(dep.Type), dep.CreatedAt, dep.CreatedBy, meta)
	if err != nil {
		if isUniqueConstraintError(err) {
			return opserr.Wrap("dependency.add", opserr.Conflict, err, "dependency already exists")
		}
		return opserr.Wrap("dependency.add", opserr.Storage, err, "insert")
	}
	return nil
}

func removeDependency(ctx context.Context, x execer, blocked, blocker string, depType types.DependencyType) error {
	res, err := x.ExecContext(ctx, `
		DELETE FROM dependencies WHERE blocked_id = ? AND blocker_id = ? AND type = ?
	`, blocked, blocker, string(depType))
	if err != nil {
		return opserr.Wrap("dependency.remove", opserr.Storage, err, "delete")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return opserr.New("dependency.remove", opserr.NotFound, "dependency not found")
	}
	return nil
}

func (s *Store) AddDependency(ctx context.Context, dep *types.Dependency) error {
	return addDependency(ctx, s.exec(), dep)
}

func (s *Store) RemoveDependency(ctx context.Context, blocked, blocker string, depType types.DependencyType) error {
	return removeDependency(ctx, s.exec(), blocked, blocker, depType)
}

// GetDependencyRecords returns edges where id is the Blocked endpoint:
// what id depends on.
func (s *Store) GetDependencyRecords(ctx context.Context, id string) ([]*types.Dependency, error) {
	return queryDependencies(ctx, s.exec(), `WHERE blocked_id = ?`, id)
}

// GetDependentRecords returns edges where id is the Blocker endpoint:
// what depends on id.
func (s *Store) GetDependentRecords(ctx context.Context, id string) ([]*types.Dependency, error) {
	return queryDependencies(ctx, s.exec(), `WHERE blocker_id = ?`, id)
}

func (s *Store) GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error) {
	return queryDependencies(ctx, s.exec(), ``)
}

func queryDependencies(ctx context.Context, x execer, where string, args ...interface{}) ([]*types.Dependency, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT blocked_id, blocker_id, type, created_at, created_by, metadata
		FROM dependencies `+where, args...)
	if err != nil {
		return nil, opserr.Wrap("dependency.query", opserr.Storage, err, "query")
	}
	defer rows.Close()

	var out []*types.Dependency
	for rows.Next() {
		var d types.Dependency
		var meta string
		if err := rows.Scan(&d.Blocked, &d.Blocker, &d.Type, &d.CreatedAt, &d.CreatedBy, &meta); err != nil {
			return nil, opserr.Wrap("dependency.query", opserr.Storage, err, "scan")
		}
		if meta != "" && meta != "{}" {
			var g types.GateMetadata
			if err := json.Unmarshal([]byte(meta), &g); err == nil {
				d.Gate = &g
			}
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpdateDependencyGate rewrites the gate metadata on a single edge,
// used by recordApproval/removeApproval.
func (s *Store) UpdateDependencyGate(ctx context.Context, blocked, blocker string, depType types.DependencyType, gate *types.GateMetadata) error {
	b, err := json.Marshal(gate)
	if err != nil {
		return opserr.Wrap("dependency.updateGate", opserr.Storage, err, "marshal")
	}
	res, err := s.exec().ExecContext(ctx, `
		UPDATE dependencies SET metadata = ? WHERE blocked_id = ? AND blocker_id = ? AND type = ?
	`, string(b), blocked, blocker, string(depType))
	if err != nil {
		return opserr.Wrap("dependency.updateGate", opserr.Storage, err, "update")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return opserr.New("dependency.updateGate", opserr.NotFound, "dependency not found")
	}
	return nil
}
