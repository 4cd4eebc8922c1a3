package sqlite

import (
	"context"
	"strings"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// queryElements runs a base elements query, applying the deleted-at
// filter, then loads and further filters rows in Go (the JSON payload
// is opaque to SQL beyond the header columns already indexed).
func queryElements(ctx context.Context, x execer, includeDeleted bool, typeFilter []types.Kind) ([]*types.Element, error) {
	var b strings.Builder
	b.WriteString(`SELECT data FROM elements WHERE 1=1`)
	var args []interface{}
	if !includeDeleted {
		b.WriteString(` AND deleted_at IS NULL`)
	}
	if len(typeFilter) > 0 {
		ph, typeArgs := typesInClause(typeFilter)
		b.WriteString(` AND type IN (` + ph + `)`)
		args = append(args, typeArgs...)
	}
	b.WriteString(` ORDER BY created_at`)

	rows, err := x.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, opserr.Wrap("element.list", opserr.Storage, err, "query")
	}
	defer rows.Close()

	var out []*types.Element
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, opserr.Wrap("element.list", opserr.Storage, err, "scan")
		}
		el, err := unmarshalElement(data)
		if err != nil {
			return nil, opserr.Wrap("element.list", opserr.Storage, err, "corrupt row")
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// GetElementsByIDs batch-fetches elements in one query, the same
// eliminate-N+1 discipline listings use for tags, for callers (document
// hydration, export) that need many rows by id at once.
func (s *Store) GetElementsByIDs(ctx context.Context, ids []string) (map[string]*types.Element, error) {
	out := make(map[string]*types.Element, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	rows, err := s.exec().QueryContext(ctx, `SELECT data FROM elements WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return nil, opserr.Wrap("element.getByIDs", opserr.Storage, err, "query")
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, opserr.Wrap("element.getByIDs", opserr.Storage, err, "scan")
		}
		el, err := unmarshalElement(data)
		if err != nil {
			continue // corrupt row: skipped from results, not auto-deleted
		}
		out[el.ID] = el
	}
	return out, rows.Err()
}

func typesInClause(kinds []types.Kind) (string, []interface{}) {
	ph := make([]string, len(kinds))
	args := make([]interface{}, len(kinds))
	for i, k := range kinds {
		ph[i] = "?"
		args[i] = string(k)
	}
	return strings.Join(ph, ","), args
}

func (s *Store) ListElements(ctx context.Context, filter types.ElementFilter) ([]*types.Element, error) {
	els, err := queryElements(ctx, s.exec(), filter.IncludeDeleted, filter.Types)
	if err != nil {
		return nil, err
	}
	out := els[:0]
	for _, el := range els {
		if filter.CreatedBy != "" && el.CreatedBy != filter.CreatedBy {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(el, filter.Tags) {
			continue
		}
		if filter.CreatedSince != nil && el.CreatedAt.Before(*filter.CreatedSince) {
			continue
		}
		if filter.UpdatedSince != nil && el.UpdatedAt.Before(*filter.UpdatedSince) {
			continue
		}
		out = append(out, el)
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

// ListElementsPaginated is ListElements plus the pre-window total, for
// callers that render page controls.
func (s *Store) ListElementsPaginated(ctx context.Context, filter types.ElementFilter) (*types.Page, error) {
	unwindowed := filter
	unwindowed.Offset = 0
	unwindowed.Limit = 0
	all, err := s.ListElements(ctx, unwindowed)
	if err != nil {
		return nil, err
	}
	return &types.Page{
		Items:  paginate(all, filter.Offset, filter.Limit),
		Total:  len(all),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	}, nil
}

func hasAllTags(el *types.Element, tags []string) bool {
	for _, t := range tags {
		if !el.HasTag(t) {
			return false
		}
	}
	return true
}

func paginate(els []*types.Element, offset, limit int) []*types.Element {
	if offset > 0 {
		if offset >= len(els) {
			return nil
		}
		els = els[offset:]
	}
	if limit > 0 && limit < len(els) {
		els = els[:limit]
	}
	return els
}

func (s *Store) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Element, error) {
	els, err := queryElements(ctx, s.exec(), false, []types.Kind{types.KindTask})
	if err != nil {
		return nil, err
	}
	var out []*types.Element
	for _, el := range els {
		t := el.Task
		if t == nil {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, t.Status) {
			continue
		}
		if filter.Assignee != "" && t.Assignee != filter.Assignee {
			continue
		}
		if filter.Owner != "" && t.Owner != filter.Owner {
			continue
		}
		if filter.TaskType != "" && t.TaskType != filter.TaskType {
			continue
		}
		if filter.PriorityMin > 0 && t.Priority < filter.PriorityMin {
			continue
		}
		if filter.PriorityMax > 0 && t.Priority > filter.PriorityMax {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(el, filter.Tags) {
			continue
		}
		out = append(out, el)
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

func containsStatus(statuses []types.TaskStatus, s types.TaskStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s *Store) ListDocuments(ctx context.Context, filter types.DocumentFilter) ([]*types.Element, error) {
	els, err := queryElements(ctx, s.exec(), false, []types.Kind{types.KindDocument})
	if err != nil {
		return nil, err
	}
	var out []*types.Element
	for _, el := range els {
		d := el.Document
		if d == nil {
			continue
		}
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(el, filter.Tags) {
			continue
		}
		out = append(out, el)
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) GetDocumentVersions(ctx context.Context, documentID string) ([]*types.DocumentVersion, error) {
	rows, err := s.exec().QueryContext(ctx, `
		SELECT document_id, version, data, created_at FROM document_versions
		WHERE document_id = ? ORDER BY version
	`, documentID)
	if err != nil {
		return nil, opserr.Wrap("document.versions", opserr.Storage, err, "query")
	}
	defer rows.Close()

	var out []*types.DocumentVersion
	for rows.Next() {
		var dv types.DocumentVersion
		var data string
		if err := rows.Scan(&dv.DocumentID, &dv.Version, &data, &dv.CreatedAt); err != nil {
			return nil, opserr.Wrap("document.versions", opserr.Storage, err, "scan")
		}
		el, err := unmarshalElement(data)
		if err != nil {
			return nil, opserr.Wrap("document.versions", opserr.Storage, err, "corrupt snapshot")
		}
		dv.Data = el
		out = append(out, &dv)
	}
	return out, rows.Err()
}

func (s *Store) ListChannels(ctx context.Context, filter types.ChannelFilter) ([]*types.Element, error) {
	els, err := queryElements(ctx, s.exec(), false, []types.Kind{types.KindChannel})
	if err != nil {
		return nil, err
	}
	var out []*types.Element
	for _, el := range els {
		c := el.Channel
		if c == nil {
			continue
		}
		if filter.ChannelType != "" && c.ChannelType != filter.ChannelType {
			continue
		}
		if filter.Member != "" && !containsString(c.Members, filter.Member) {
			continue
		}
		out = append(out, el)
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// GetDirectChannel finds the unique direct channel for the member pair
// (a, b), if any.
func (s *Store) GetDirectChannel(ctx context.Context, a, b string) (*types.Element, error) {
	key := types.DirectKey(a, b)
	els, err := queryElements(ctx, s.exec(), false, []types.Kind{types.KindChannel})
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		c := el.Channel
		if c == nil || c.ChannelType != types.ChannelDirect || len(c.Members) != 2 {
			continue
		}
		if types.DirectKey(c.Members[0], c.Members[1]) == key {
			return el, nil
		}
	}
	return nil, opserr.New("channel.getDirect", opserr.NotFound, "no direct channel between "+a+" and "+b)
}

func (s *Store) ListMessages(ctx context.Context, filter types.MessageFilter) ([]*types.Element, error) {
	els, err := queryElements(ctx, s.exec(), false, []types.Kind{types.KindMessage})
	if err != nil {
		return nil, err
	}
	var out []*types.Element
	for _, el := range els {
		m := el.Message
		if m == nil {
			continue
		}
		if filter.ChannelID != "" && m.ChannelID != filter.ChannelID {
			continue
		}
		if filter.ThreadID != "" && m.ThreadID != filter.ThreadID {
			continue
		}
		if filter.Sender != "" && m.Sender != filter.Sender {
			continue
		}
		if filter.Since != nil && el.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, el)
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}
