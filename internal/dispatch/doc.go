// Package dispatch implements idempotent campaign dispatch: claiming
// recipients at most once per campaign, executing delivery, and
// aggregating delivery stats.
//
// The at-most-once guarantee rides entirely on the record store's
// unique key over the deterministic send record ID. Reservation
// inserts are the claim; a duplicate-key collision means another
// worker holds the claim and is silently skipped. No in-process lock
// exists and none is assumed — concurrent workers on separate
// machines coordinate only through the store.
package dispatch
