// Package services implements the business logic of the credit ledger:
// balance reservations, idempotent refunds, the refund failure queue, the
// refund guard, and the background sweeper.
//
// Note the deliberate asymmetry in error handling: mutating credit
// operations never propagate infrastructure errors (they log and return
// false), while read operations return errors normally for the HTTP layer
// to map.
package services

import "errors"

// errAlreadyGranted is an internal transaction sentinel: the starter grant
// was issued previously, so the current call must report false without
// logging a failure.
var errAlreadyGranted = errors.New("starter grant already issued")
