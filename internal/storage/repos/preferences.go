package repos

import (
	"context"
	"encoding/json"

	"vitalwatch/internal/model"
)

func (s *Store) GetPreference(ctx context.Context, key string) (model.Preference, error) {
	var value, updatedAt string
	err := s.DB.QueryRowContext(ctx, "SELECT value, updated_at FROM preferences WHERE key = ?", key).Scan(&value, &updatedAt)
	if err != nil {
		return model.Preference{}, notFound(err)
	}
	return model.Preference{Key: key, Value: json.RawMessage(value), UpdatedAt: parseTS(updatedAt)}, nil
}

// PutPreference stores value under key, replacing any previous value.
func (s *Store) PutPreference(ctx context.Context, key string, value json.RawMessage) (model.Preference, error) {
	now := nowUTC()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO preferences(key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), now.Format(timeFormat),
	)
	if err != nil {
		return model.Preference{}, err
	}
	return model.Preference{Key: key, Value: value, UpdatedAt: now}, nil
}

func (s *Store) ListPreferences(ctx context.Context) ([]model.Preference, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT key, value, updated_at FROM preferences ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Preference{}
	for rows.Next() {
		var key, value, updatedAt string
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			return nil, err
		}
		out = append(out, model.Preference{Key: key, Value: json.RawMessage(value), UpdatedAt: parseTS(updatedAt)})
	}
	return out, rows.Err()
}

func (s *Store) DeletePreference(ctx context.Context, key string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
