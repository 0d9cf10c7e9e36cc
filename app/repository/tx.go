package repository

import "gorm.io/gorm"

// TxRunner executes a function inside a database transaction. Services take a
// TxRunner so their tests can swap in a pass-through runner with fake
// repositories.
type TxRunner func(fn func(tx *gorm.DB) error) error

// GormTxRunner wraps db.Transaction as a TxRunner.
func GormTxRunner(db *gorm.DB) TxRunner {
	return func(fn func(tx *gorm.DB) error) error {
		return db.Transaction(fn)
	}
}

// PassthroughTxRunner runs the function without a transaction. Used by tests
// together with in-memory repositories.
func PassthroughTxRunner() TxRunner {
	return func(fn func(tx *gorm.DB) error) error {
		return fn(nil)
	}
}
