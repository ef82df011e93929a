package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operation is the mutation kind carried by an envelope.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// EntityType names the entity an envelope mutates.
type EntityType string

const (
	EntityProduct          EntityType = "product"
	EntityStockItem        EntityType = "stock_item"
	EntityStockTransaction EntityType = "stock_transaction"
	EntitySupplier         EntityType = "supplier"
	EntityCustomer         EntityType = "customer"
	EntitySale             EntityType = "sale"
)

// allowedOps lists the operations each entity accepts. Ledger rows and
// sales are append-only.
var allowedOps = map[EntityType][]Operation{
	EntityProduct:          {OpCreate, OpUpdate, OpDelete},
	EntityStockItem:        {OpCreate, OpUpdate, OpDelete},
	EntityStockTransaction: {OpCreate},
	EntitySupplier:         {OpCreate, OpUpdate, OpDelete},
	EntityCustomer:         {OpCreate, OpUpdate, OpDelete},
	EntitySale:             {OpCreate},
}

// EntityKey identifies one entity across types.
type EntityKey struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (k EntityKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Payload is a typed envelope body.
type Payload interface {
	payloadType() EntityType
}

func (*Product) payloadType() EntityType            { return EntityProduct }
func (*StockItem) payloadType() EntityType          { return EntityStockItem }
func (*TransactionRequest) payloadType() EntityType { return EntityStockTransaction }
func (*Supplier) payloadType() EntityType           { return EntitySupplier }
func (*Customer) payloadType() EntityType           { return EntityCustomer }
func (*SaleRequest) payloadType() EntityType        { return EntitySale }

// Envelope is the unit of synchronisation: one queued local mutation.
type Envelope struct {
	EntryID    string          `json:"entry_id"`
	Operation  Operation       `json:"operation"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ClientID   string          `json:"client_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Key returns the entity the envelope targets.
func (e *Envelope) Key() EntityKey {
	return EntityKey{Type: e.EntityType, ID: e.EntityID}
}

// Validate rejects envelopes that cannot be dispatched. It also decodes the
// payload, so a malformed body is rejected here rather than deeper down.
func (e *Envelope) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(e.EntryID) == "" {
		verr.Add("entry_id", "entry id is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		verr.Add("entity_id", "entity id is required")
	}
	ops, known := allowedOps[e.EntityType]
	if !known {
		verr.Add("entity_type", fmt.Sprintf("unknown entity type %q", e.EntityType))
		return verr
	}
	allowed := false
	for _, op := range ops {
		if op == e.Operation {
			allowed = true
			break
		}
	}
	if !allowed {
		verr.Add("operation", fmt.Sprintf("operation %q is not supported for %s", e.Operation, e.EntityType))
		return verr
	}
	if e.Operation != OpDelete {
		if len(e.Payload) == 0 {
			verr.Add("payload", "payload is required")
		} else if _, err := e.Decode(); err != nil {
			verr.Add("payload", err.Error())
		}
	}
	return verr.OrNil()
}

// Decode returns the typed payload with its id aligned to EntityID.
// Deletes carry no payload and decode to nil.
func (e *Envelope) Decode() (Payload, error) {
	if e.Operation == OpDelete {
		return nil, nil
	}
	var p Payload
	switch e.EntityType {
	case EntityProduct:
		v := &Product{}
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		if v.ID == "" {
			v.ID = e.EntityID
		}
		p = v
	case EntityStockItem:
		v := &StockItem{}
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("decode stock item: %w", err)
		}
		if v.ID == "" {
			v.ID = e.EntityID
		}
		p = v
	case EntityStockTransaction:
		v := &TransactionRequest{}
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("decode stock transaction: %w", err)
		}
		if v.ID == "" {
			v.ID = e.EntityID
		}
		p = v
	case EntitySupplier:
		v := &Supplier{}
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("decode supplier: %w", err)
		}
		if v.ID == "" {
			v.ID = e.EntityID
		}
		p = v
	case EntityCustomer:
		v := &Customer{}
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("decode customer: %w", err)
		}
		if v.ID == "" {
			v.ID = e.EntityID
		}
		p = v
	case EntitySale:
		v := &SaleRequest{}
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("decode sale: %w", err)
		}
		if v.ID == "" {
			v.ID = e.EntityID
		}
		p = v
	default:
		return nil, fmt.Errorf("unknown entity type %q", e.EntityType)
	}
	return p, nil
}

// Dependencies lists the other entities a payload references. A queued
// entry must not be sent while one of these still has an unsynced entry
// ahead of it.
func Dependencies(p Payload) []EntityKey {
	var deps []EntityKey
	switch v := p.(type) {
	case *SaleRequest:
		if v.CustomerID != "" {
			deps = append(deps, EntityKey{Type: EntityCustomer, ID: v.CustomerID})
		}
		for _, line := range v.Items {
			deps = append(deps, EntityKey{Type: EntityProduct, ID: line.ProductID})
		}
	case *TransactionRequest:
		deps = append(deps, EntityKey{Type: EntityStockItem, ID: v.StockItemID})
	case *Product:
		if v.SupplierID != "" {
			deps = append(deps, EntityKey{Type: EntitySupplier, ID: v.SupplierID})
		}
	}
	return deps
}

// ApplyStatus tells the client how the server handled an envelope.
type ApplyStatus string

const (
	// ApplyApplied means the mutation was committed by this call.
	ApplyApplied ApplyStatus = "applied"
	// ApplyAlreadyApplied means an earlier delivery of the same entry, or
	// a create for an id that already exists, was recognised.
	ApplyAlreadyApplied ApplyStatus = "already_applied"
	// ApplyStale means a newer write for the entity already won.
	ApplyStale ApplyStatus = "stale"
)

// ApplyResult is the server's answer to one envelope.
type ApplyResult struct {
	EntryID    string      `json:"entry_id"`
	Status     ApplyStatus `json:"status"`
	EntityType EntityType  `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Message    string      `json:"message,omitempty"`
}

// SyncReceipt records that an entry was applied, so a redelivery is
// answered from the receipt instead of being applied twice.
type SyncReceipt struct {
	EntryID    string      `json:"entry_id"`
	ClientID   string      `json:"client_id"`
	EntityType EntityType  `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Operation  Operation   `json:"operation"`
	Status     ApplyStatus `json:"status"`
	AppliedAt  time.Time   `json:"applied_at"`
}
