package appointment

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/chinmaydhabale/medschedule/internal/db"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
)

// PgTransactor runs atomic units in one Postgres transaction, retrying on
// serialization failures and deadlocks.
type PgTransactor struct {
	q db.Querier
}

func NewPgTransactor(q db.Querier) *PgTransactor {
	return &PgTransactor{q: q}
}

func (t *PgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	return db.Transact(ctx, t.q, func(tx pgx.Tx) error {
		return fn(ctx, TxStores{
			Slots:        schedule.NewPgRepository(tx),
			Appointments: NewPgRepository(tx),
		})
	})
}
