package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// CreateSchema creates the tables and indexes if they do not exist yet.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
			return fmt.Errorf("create extension: %w", err)
		}
		if _, err := tx.NewCreateTable().Model((*conversation)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create conversations: %w", err)
		}
		_, err := tx.NewCreateTable().
			Model((*message)(nil)).
			IfNotExists().
			ForeignKey(`("conversation_id") REFERENCES "conversations" ("id") ON DELETE CASCADE`).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create messages: %w", err)
		}

		indexes := []*bun.CreateIndexQuery{
			tx.NewCreateIndex().Model((*conversation)(nil)).Index("conversations_pair_idx").Unique().Column("user_a", "user_b"),
			tx.NewCreateIndex().Model((*conversation)(nil)).Index("conversations_user_b_idx").Column("user_b"),
			tx.NewCreateIndex().Model((*message)(nil)).Index("messages_conversation_seq_idx").Column("conversation_id", "seq"),
			tx.NewCreateIndex().Model((*message)(nil)).Index("messages_client_id_idx").Unique().Column("conversation_id", "client_id"),
		}
		for _, q := range indexes {
			if _, err := q.IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
		return nil
	})
}
