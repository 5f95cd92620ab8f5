package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/dualstore/store"
)

func (d *DB) UpsertRecord(ctx context.Context, upsert *store.UpsertRecord) (*store.Record, error) {
	if upsert == nil {
		return nil, fmt.Errorf("upsert parameter cannot be nil")
	}

	now := time.Now().Unix()
	stmt := `
		INSERT INTO record (kind, id, payload, created_ts, updated_ts)
		VALUES ($1, $2, $3::jsonb, $4, $4)
		ON CONFLICT (kind, id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_ts = EXCLUDED.updated_ts
		RETURNING kind, id, payload, created_ts, updated_ts
	`

	record, err := scanRecord(d.db.QueryRowContext(ctx, stmt, upsert.Kind.String(), upsert.ID, string(upsert.Payload), now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert record: %w", err)
	}
	return record, nil
}

func (d *DB) ListRecords(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"kind = $1"}, []any{find.Kind.String()}
	argIndex := 2

	if find.ID != nil {
		where = append(where, fmt.Sprintf("id = $%d", argIndex))
		args = append(args, *find.ID)
		argIndex++
	}
	if len(find.Match) > 0 {
		contains, err := json.Marshal(find.Match)
		if err != nil {
			return nil, fmt.Errorf("failed to encode match filter: %w", err)
		}
		where = append(where, fmt.Sprintf("payload @> $%d::jsonb", argIndex))
		args = append(args, string(contains))
	}

	query := fmt.Sprintf(`
		SELECT kind, id, payload, created_ts, updated_ts
		FROM record
		WHERE %s
		ORDER BY id ASC
		LIMIT %d OFFSET %d
	`, strings.Join(where, " AND "), find.EffectiveLimit(), find.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	list := []*store.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		list = append(list, record)
	}

	return list, rows.Err()
}

func (d *DB) DeleteRecord(ctx context.Context, delete *store.DeleteRecord) error {
	if delete == nil {
		return fmt.Errorf("delete parameter cannot be nil")
	}

	result, err := d.db.ExecContext(ctx, `DELETE FROM record WHERE kind = $1 AND id = $2`, delete.Kind.String(), delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*store.Record, error) {
	var (
		record  store.Record
		kind    string
		payload []byte
	)
	if err := row.Scan(&kind, &record.ID, &payload, &record.CreatedTs, &record.UpdatedTs); err != nil {
		return nil, err
	}
	record.Kind = store.Kind(kind)
	record.Payload = json.RawMessage(payload)
	return &record, nil
}
