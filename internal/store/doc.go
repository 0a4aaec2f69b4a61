// Package store declares the run journal: which batch runs happened and what
// each site did within them. Implementations live elsewhere; this package must
// not import database drivers.
package store
