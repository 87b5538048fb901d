package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/leafsii/leafsii-dsc/internal/ledger"
	"go.uber.org/zap"
)

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// unitOfWork makes one engine command all-or-nothing. Ledger changes are undone
// by restoring the snapshot taken at begin; external token calls are undone by
// running their compensations in reverse order.
type unitOfWork struct {
	id       uuid.UUID
	op       string
	ledger   *ledger.Ledger
	snapshot *ledger.Snapshot
	journal  Journal
	logger   *zap.SugaredLogger

	compensations []compensation
	events        []Event
	done          bool
}

func newUnitOfWork(op string, l *ledger.Ledger, journal Journal, logger *zap.SugaredLogger) *unitOfWork {
	return &unitOfWork{
		id:       uuid.New(),
		op:       op,
		ledger:   l,
		snapshot: l.Snapshot(),
		journal:  journal,
		logger:   logger,
	}
}

// call runs an external side effect and registers undo for it once it succeeded.
func (u *unitOfWork) call(ctx context.Context, name string, do, undo func(ctx context.Context) error) error {
	if err := do(ctx); err != nil {
		return err
	}
	u.compensations = append(u.compensations, compensation{name: name, undo: undo})
	return nil
}

// record queues ev for the journal. Events share the operation id.
func (u *unitOfWork) record(ev Event) {
	ev.ID = u.id
	u.events = append(u.events, ev)
}

// commit hands the recorded events to the journal. On error the caller must roll back.
func (u *unitOfWork) commit(ctx context.Context) error {
	for _, ev := range u.events {
		if err := u.journal.Append(ctx, ev); err != nil {
			return err
		}
	}
	u.done = true
	return nil
}

func (u *unitOfWork) rollback(ctx context.Context) {
	if u.done {
		return
	}
	// compensations must run even when the caller's context is already cancelled
	ctx = context.WithoutCancel(ctx)
	for i := len(u.compensations) - 1; i >= 0; i-- {
		c := u.compensations[i]
		if err := c.undo(ctx); err != nil {
			u.logger.Errorw("Compensation failed", "op", u.op, "operation_id", u.id, "step", c.name, "error", err)
		}
	}
	u.ledger.Restore(u.snapshot)
	u.done = true
}
