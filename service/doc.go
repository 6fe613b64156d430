// Package service runs registration transactions on top of rollback
// journals.
//
// A Manager owns the journal directory: it opens one journal per
// transaction, recovers journals left behind by a crashed process before
// traffic is accepted, and parks journals that an operator has locked or
// whose rollback failed. Pipeline drives the data-set registration steps
// through a single transaction.
package service
