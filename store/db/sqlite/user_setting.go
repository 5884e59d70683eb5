package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/parleychat/parley/store"
)

func (d *DB) GetUserSetting(ctx context.Context, find *store.FindUserSetting) (*store.UserSetting, error) {
	stmt := `SELECT key, value, updated_ts FROM user_setting WHERE key = ?`
	setting := &store.UserSetting{}
	err := d.db.QueryRowContext(ctx, stmt, find.Key).Scan(&setting.Key, &setting.Value, &setting.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user setting")
	}
	return setting, nil
}

func (d *DB) UpsertUserSetting(ctx context.Context, upsert *store.UpsertUserSetting) (*store.UserSetting, error) {
	stmt := `
		INSERT INTO user_setting (key, value, updated_ts)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_ts = excluded.updated_ts
		RETURNING key, value, updated_ts
	`
	setting := &store.UserSetting{}
	if err := d.db.QueryRowContext(ctx, stmt, upsert.Key, upsert.Value, time.Now().Unix()).Scan(
		&setting.Key, &setting.Value, &setting.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert user setting")
	}
	return setting, nil
}
