// ABOUTME: Tag and Department persistence for SQLiteStore
// ABOUTME: Account-scoped labels; tags attach many-to-many to assignments

package store

import (
	"context"
	"fmt"
)

// CreateTag inserts a new tag.
func (s *SQLiteStore) CreateTag(ctx context.Context, t *Tag) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, color, sort_order) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Color, t.SortOrder)
	if err != nil {
		return fmt.Errorf("inserting tag: %w", err)
	}
	return nil
}

// ListTags returns all tags in display order.
func (s *SQLiteStore) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color, sort_order FROM tags ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.SortOrder); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// TagAssignment attaches a tag to an assignment. Attaching twice is a no-op.
func (s *SQLiteStore) TagAssignment(ctx context.Context, assignmentID, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignment_tags (assignment_id, tag_id) VALUES (?, ?)`,
		assignmentID, tagID)
	if err != nil {
		return fmt.Errorf("tagging assignment: %w", err)
	}
	return nil
}

// UntagAssignment detaches a tag from an assignment.
func (s *SQLiteStore) UntagAssignment(ctx context.Context, assignmentID, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM assignment_tags WHERE assignment_id = ? AND tag_id = ?`,
		assignmentID, tagID)
	if err != nil {
		return fmt.Errorf("untagging assignment: %w", err)
	}
	return nil
}

// CreateDepartment inserts a new department.
func (s *SQLiteStore) CreateDepartment(ctx context.Context, d *Department) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (id, name, color, sort_order) VALUES (?, ?, ?, ?)`,
		d.ID, d.Name, d.Color, d.SortOrder)
	if err != nil {
		return fmt.Errorf("inserting department: %w", err)
	}
	return nil
}

// ListDepartments returns all departments in display order.
func (s *SQLiteStore) ListDepartments(ctx context.Context) ([]*Department, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color, sort_order FROM departments ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("querying departments: %w", err)
	}
	defer rows.Close()

	var departments []*Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Color, &d.SortOrder); err != nil {
			return nil, fmt.Errorf("scanning department: %w", err)
		}
		departments = append(departments, &d)
	}
	return departments, rows.Err()
}
