// Package evanq and its sub-packages implement an offline write queue for blockchain DApps: writes are queued locally,
// persisted and synced to the blockchain later by dispatchers.
/*
evanq provides you with two services:

1) a queue service (cmd/queued) that keeps the queue of pending writes and exposes a RESTful API (package api) to add
 payloads, inspect and remove entries and start synchronisations.

2) a watcher service (cmd/watcher) that follows the changes of one or more queue services in real-time.

Queue

Payloads are grouped into entries by queue ID, a triple of DApp ens address, dispatcher name and entry id (package
lib/queue). Every change of the queue is persisted to a database product agnostic store (package lib/store) so pending
writes survive restarts. A dispatcher syncs an entry by running its sequence of steps in order; each step result is
kept with the entry so an entry halted by an error resumes at the failing step. Finished entries leave the queue and
the subscribers matching their queue ID are called with the step results.

Dispatchers are resolved by ens address. The queue service registers the built-in ones (packages
dispatchers/transfer and dispatchers/addressbook) and loads DApp provided ones from JavaScript files (package
lib/script).

Entries are synced on request or periodically (package scheduler). Periodic syncs skip the entries halted by an
error, which wait for an explicit sync.

Architecture

The queue service publishes every queue change to a message broker (package lib/msg). The watcher service consumes
the events and serves the latest state of every entry. The blockchain layer (package lib/block) is used by the
transfer dispatcher to check balances, send transactions and wait for their receipts.

Both services can be monitored via a Prometheus API. The queue service serves it with the flag "-m" at startup.

*/
package evanq
