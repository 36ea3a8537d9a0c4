// Package sable provides saga lifecycle management for event-driven Go
// applications. It loads, creates, correlates, and persists long-running
// process instances ("sagas") that react to a stream of inbound events and
// must survive across many separate message-processing transactions.
//
// The centerpiece is the saga repository: it guarantees that at most one live
// in-memory instance exists per saga identifier at any instant, gives each
// processing transaction a consistent view of the saga's uncommitted
// mutations, and persists each saga exactly once, atomically, at the correct
// point in the transaction's lifecycle.
//
// # Quick Start
//
// Create a repository backed by the in-memory store for development:
//
//	import (
//	    "github.com/AshkanYarmoradi/go-sable"
//	    "github.com/AshkanYarmoradi/go-sable/adapters/memory"
//	)
//
//	type OrderProcess struct {
//	    OrderID string `json:"orderId"`
//	    Paid    bool   `json:"paid"`
//	}
//
//	core := sable.NewSagaRepository[OrderProcess]("OrderProcess", memory.NewSagaStore())
//	repo := sable.NewLockingRepository(core, sable.NewPessimisticLockFactory())
//
// Each inbound message is processed inside a unit of work. Handler code asks
// the repository for the saga, mutates it, and lets the unit of work commit:
//
//	uow := sable.Begin(nil)
//	saga, err := repo.Create(ctx, uow, sable.NewSagaIdentifier(), func() (*OrderProcess, error) {
//	    return &OrderProcess{OrderID: "42"}, nil
//	})
//	if err != nil {
//	    return err
//	}
//	saga.AssociateWith(sable.NewAssociationValue("orderId", "42"))
//	if err := uow.Commit(ctx); err != nil {
//	    return err
//	}
//
// For production, use the PostgreSQL or Redis store:
//
//	import "github.com/AshkanYarmoradi/go-sable/adapters/postgres"
//
//	store := postgres.NewSagaStore(db)
//
// Correlation lookups merge in-flight and persisted sagas, so a saga created
// earlier in the same transaction is already discoverable by its association
// values:
//
//	ids, err := repo.Find(ctx, sable.NewAssociationValue("orderId", "42"))
package sable

import "github.com/google/uuid"

// NewSagaIdentifier returns a new globally unique saga identifier.
func NewSagaIdentifier() string {
	return uuid.NewString()
}
