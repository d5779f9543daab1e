package service

// TransactionStatus is the externally visible lifecycle of a submitted
// command.
type TransactionStatus string

const (
	// StatusPending means the command is staged in the outbox and has not
	// yet produced a durable outcome.
	StatusPending TransactionStatus = "PENDING"
	// StatusCompleted means the command was applied and journaled.
	StatusCompleted TransactionStatus = "COMPLETED"
	// StatusError means the command was rejected or poisoned and sits in
	// the dead letter table.
	StatusError TransactionStatus = "ERROR"
	// StatusNotFound means no trace of the key exists anywhere.
	StatusNotFound TransactionStatus = "NOT_FOUND"
)
