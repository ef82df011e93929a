package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"retailsync/internal/model"
	"retailsync/internal/repository"
)

// SyncService applies envelopes sent by point-of-sale clients. Every entry
// is applied at most once: its id is recorded as a receipt in the same
// transaction as the mutation, and a redelivered entry is answered from
// the receipt.
type SyncService struct {
	store   *repository.Store
	ledger  *LedgerService
	sales   *SaleService
	catalog *CatalogService
	stats   *StatsService
	audit   repository.AuditLog
	now     func() time.Time
}

// NewSyncService creates a sync service. A nil audit log discards entries.
func NewSyncService(
	store *repository.Store,
	ledger *LedgerService,
	sales *SaleService,
	catalog *CatalogService,
	stats *StatsService,
	audit repository.AuditLog,
) *SyncService {
	if audit == nil {
		audit = repository.NopAuditLog{}
	}
	return &SyncService{
		store:   store,
		ledger:  ledger,
		sales:   sales,
		catalog: catalog,
		stats:   stats,
		audit:   audit,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply validates and applies one envelope.
func (s *SyncService) Apply(ctx context.Context, env *model.Envelope) (*model.ApplyResult, error) {
	start := time.Now()

	result, err := s.apply(ctx, env)

	entry := &model.AuditEntry{
		EntryID:    env.EntryID,
		ClientID:   env.ClientID,
		Operation:  env.Operation,
		EntityType: env.EntityType,
		EntityID:   env.EntityID,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = "rejected"
		entry.Error = err.Error()
		log.Printf("[SyncService] Rejected %s %s/%s (entry %s): %v",
			env.Operation, env.EntityType, env.EntityID, env.EntryID, err)
	} else {
		entry.Status = string(result.Status)
	}
	if auditErr := s.audit.Record(ctx, entry); auditErr != nil {
		log.Printf("[SyncService] Failed to record audit entry: %v", auditErr)
	}

	if err != nil {
		return nil, err
	}
	if result.Status == model.ApplyApplied {
		s.stats.Invalidate(ctx)
	}
	return result, nil
}

func (s *SyncService) apply(ctx context.Context, env *model.Envelope) (*model.ApplyResult, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	payload, err := env.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	result := &model.ApplyResult{
		EntryID:    env.EntryID,
		EntityType: env.EntityType,
		EntityID:   env.EntityID,
	}
	err = withRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(q *repository.Queries) error {
			receipt, err := q.GetReceipt(ctx, env.EntryID)
			if err != nil {
				return err
			}
			if receipt != nil {
				result.Status = model.ApplyAlreadyApplied
				result.Message = fmt.Sprintf("entry already applied at %s", receipt.AppliedAt.Format(time.RFC3339))
				return nil
			}

			status, err := s.dispatch(ctx, q, env, payload)
			if err != nil {
				return err
			}
			result.Status = status
			result.Message = ""

			return q.InsertReceipt(ctx, &model.SyncReceipt{
				EntryID:    env.EntryID,
				ClientID:   env.ClientID,
				EntityType: env.EntityType,
				EntityID:   env.EntityID,
				Operation:  env.Operation,
				Status:     status,
				AppliedAt:  s.now(),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validatePayload(p model.Payload) error {
	if v, ok := p.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

// dispatch maps (operation, entity type) onto the owning service. Creates
// for ids that already exist degrade to update-or-skip, and deletes of
// missing entities are treated as already applied.
func (s *SyncService) dispatch(ctx context.Context, q *repository.Queries, env *model.Envelope, payload model.Payload) (model.ApplyStatus, error) {
	if env.Operation == model.OpDelete {
		var err error
		switch env.EntityType {
		case model.EntityProduct:
			err = s.catalog.deleteProductTx(ctx, q, env.EntityID)
		case model.EntitySupplier:
			err = s.catalog.deleteSupplierTx(ctx, q, env.EntityID)
		case model.EntityCustomer:
			err = s.catalog.deleteCustomerTx(ctx, q, env.EntityID)
		case model.EntityStockItem:
			err = s.ledger.deleteTx(ctx, q, env.EntityID)
		default:
			return "", fmt.Errorf("delete of %s: %w", env.EntityType, model.ErrInvalidOperation)
		}
		if errors.Is(err, model.ErrNotFound) {
			return model.ApplyAlreadyApplied, nil
		}
		if err != nil {
			return "", err
		}
		return model.ApplyApplied, nil
	}

	switch v := payload.(type) {
	case *model.Product:
		v.ID = env.EntityID
		stampFromEnvelope(&v.UpdatedAt, env)
		return s.catalog.putProductTx(ctx, q, v, env.Operation)
	case *model.Supplier:
		v.ID = env.EntityID
		stampFromEnvelope(&v.UpdatedAt, env)
		return s.catalog.putSupplierTx(ctx, q, v, env.Operation)
	case *model.Customer:
		v.ID = env.EntityID
		stampFromEnvelope(&v.UpdatedAt, env)
		return s.catalog.putCustomerTx(ctx, q, v, env.Operation)
	case *model.StockItem:
		v.ID = env.EntityID
		stampFromEnvelope(&v.UpdatedAt, env)
		return s.putStockItemTx(ctx, q, v, env.Operation)
	case *model.TransactionRequest:
		v.ID = env.EntityID
		result, err := s.ledger.applyTx(ctx, q, v)
		if err != nil {
			return "", err
		}
		if result.Replayed {
			return model.ApplyAlreadyApplied, nil
		}
		return model.ApplyApplied, nil
	case *model.SaleRequest:
		v.ID = env.EntityID
		if v.CreatedAt.IsZero() {
			v.CreatedAt = env.Timestamp
		}
		_, replayed, err := s.sales.recordTx(ctx, q, v)
		if err != nil {
			return "", err
		}
		if replayed {
			return model.ApplyAlreadyApplied, nil
		}
		return model.ApplyApplied, nil
	}
	return "", fmt.Errorf("%s %s: %w", env.Operation, env.EntityType, model.ErrInvalidOperation)
}

func (s *SyncService) putStockItemTx(ctx context.Context, q *repository.Queries, item *model.StockItem, op model.Operation) (model.ApplyStatus, error) {
	_, err := q.GetStockItem(ctx, item.ID)
	if errors.Is(err, model.ErrNotFound) {
		if op == model.OpUpdate {
			return "", err
		}
		if err := s.ledger.createTx(ctx, q, item); err != nil {
			return "", err
		}
		return model.ApplyApplied, nil
	}
	if err != nil {
		return "", err
	}
	return s.ledger.updateTx(ctx, q, item, op)
}

// stampFromEnvelope falls back to the envelope time when the payload
// carries no modification time.
func stampFromEnvelope(updatedAt *time.Time, env *model.Envelope) {
	if updatedAt.IsZero() {
		*updatedAt = env.Timestamp
	}
}
