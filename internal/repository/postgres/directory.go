package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
)

// ListGroupMembers returns every member of group with its attributes
func (r *Repository) ListGroupMembers(ctx context.Context, group string) ([]entity.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT u.username, u.attributes
		FROM directory_group_members m
		JOIN directory_users u ON u.username = m.username
		WHERE m.group_name = $1
		ORDER BY u.username
	`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []entity.DirectoryUser
	for rows.Next() {
		var (
			user entity.DirectoryUser
			raw  []byte
		)
		if err := rows.Scan(&user.Username, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		attrs, err := decodeAttributes(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", user.Username, err)
		}
		user.Attributes = attrs
		members = append(members, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}

	return members, nil
}

// decodeAttributes keeps the string-valued attributes of a JSONB object.
// Flags such as "email_verified": true are dropped.
func decodeAttributes(raw []byte) (map[string]string, error) {
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(all))
	for k, v := range all {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	return attrs, nil
}

// UpsertUser creates or replaces a directory user
func (r *Repository) UpsertUser(ctx context.Context, user entity.DirectoryUser) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	attrs := user.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO directory_users (username, attributes) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET attributes = EXCLUDED.attributes
	`, user.Username, raw)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// AddGroupMember adds an existing user to group
func (r *Repository) AddGroupMember(ctx context.Context, group, username string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO directory_group_members (group_name, username) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, group, username)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}
