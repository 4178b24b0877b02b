// Package order implements the ordering domain: the Order aggregate, its
// write-side Repository bound to a unit of work, the read-side Queries, and
// the Service that places orders.
//
// Errors are classified by KindOf rather than by type so the HTTP layer can
// map them to status codes without knowing about the store.
package order
