package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

// BatchStore opens the transaction a batch is written in.
type BatchStore interface {
	BeginBatch(ctx context.Context, kind Kind) (BatchTx, error)
}

// BatchTx is one batch transaction. Insert failures must leave the transaction usable
// for the remaining rows.
type BatchTx interface {
	InsertSale(ctx context.Context, sale *crm.Sale) error
	InsertLedgerEntry(ctx context.Context, entry *crm.LedgerEntry) error
	EnsureCustomer(ctx context.Context, phone, name string) (uuid.UUID, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Reconciler recomputes the cached aggregates of one customer.
type Reconciler interface {
	Reconcile(ctx context.Context, customerID uuid.UUID) error
}

// BatchResult is the outcome of one batch. Every record is counted exactly once, in
// Success or Failed.
type BatchResult struct {
	Success   int
	Failed    int
	Warnings  []string
	Customers []uuid.UUID
	Err       error
}

// Writer writes record batches and reconciles the customers each committed batch touched.
type Writer struct {
	store      BatchStore
	reconciler Reconciler
	logger     *slog.Logger

	// CreateCustomers makes sale rows with an unknown phone create their customer inside
	// the batch instead of being stored as orphans.
	CreateCustomers bool
}

func NewWriter(store BatchStore, reconciler Reconciler, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, reconciler: reconciler, logger: logger}
}

// WriteBatch writes records of kind in one transaction. resolver may be nil.
func (w *Writer) WriteBatch(ctx context.Context, kind Kind, batch int, records []Record, resolver *Resolver) BatchResult {
	if len(records) == 0 {
		return BatchResult{}
	}
	first, last := records[0].Row, records[len(records)-1].Row
	txFailed := func(err error, warnings []string) BatchResult {
		failure := &TransactionFailure{Batch: batch, FirstRow: first, LastRow: last, Err: err}
		w.logger.Warn("import_batch_rolled_back", "batch", batch, "rows", len(records), "error", err)
		return BatchResult{
			Failed:   len(records),
			Warnings: append(warnings, failure.Error()),
			Err:      failure,
		}
	}

	tx, err := w.store.BeginBatch(ctx, kind)
	if err != nil {
		return txFailed(fmt.Errorf("begin: %w", err), nil)
	}
	defer tx.Rollback(ctx)

	var (
		result     BatchResult
		registered []string
		seen       = map[uuid.UUID]struct{}{}
	)
	for i := range records {
		rec := &records[i]
		if err := w.writeRecord(ctx, tx, rec, resolver, &registered); err != nil {
			failure := &InsertFailure{Row: rec.Row, Err: err}
			result.Failed++
			result.Warnings = append(result.Warnings, failure.Error())
			continue
		}
		result.Success++
		if id := rec.CustomerID(); id != nil {
			if _, dup := seen[*id]; !dup {
				seen[*id] = struct{}{}
				result.Customers = append(result.Customers, *id)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if resolver != nil {
			resolver.Forget(registered...)
		}
		return txFailed(fmt.Errorf("commit: %w", err), result.Warnings)
	}
	w.logger.Info("import_batch_committed", "batch", batch, "success", result.Success, "failed", result.Failed, "customers", len(result.Customers))

	for _, id := range result.Customers {
		if err := w.reconciler.Reconcile(ctx, id); err != nil {
			w.logger.Error("reconcile_failed", "customer_id", id, "batch", batch, "error", err)
		}
	}
	return result
}

func (w *Writer) writeRecord(ctx context.Context, tx BatchTx, rec *Record, resolver *Resolver, registered *[]string) error {
	switch {
	case rec.Sale != nil:
		if rec.Sale.CustomerID == nil && resolver != nil {
			resolver.Annotate(rec)
		}
		if rec.Sale.CustomerID == nil && w.CreateCustomers && rec.Phone != "" {
			id, err := tx.EnsureCustomer(ctx, rec.Phone, rec.Sale.CustomerName)
			if err != nil {
				return fmt.Errorf("create customer: %w", err)
			}
			ref := crm.CustomerRef{ID: id, Name: rec.Sale.CustomerName}
			rec.link(ref)
			if resolver != nil {
				resolver.Register(rec.Phone, ref)
				*registered = append(*registered, rec.Phone)
			}
		}
		return tx.InsertSale(ctx, rec.Sale)
	case rec.Entry != nil:
		return tx.InsertLedgerEntry(ctx, rec.Entry)
	}
	return errors.New("empty record")
}
