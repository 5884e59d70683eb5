package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/parleychat/parley/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt := `
		INSERT INTO message (uid, conversation_id, role, content, model, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.ConversationID,
		create.Role,
		create.Content,
		create.Model,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *find.ConversationID)
	}

	// Creation order is the conversation order; id breaks ties between
	// rows created within the same second.
	query := `
		SELECT id, uid, conversation_id, role, content, model, created_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.UID, &m.ConversationID, &m.Role, &m.Content, &m.Model, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	return list, nil
}

func (d *DB) DeleteMessages(ctx context.Context, delete *store.DeleteMessages) error {
	stmt := `DELETE FROM message WHERE conversation_id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, delete.ConversationID); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}
	return nil
}
