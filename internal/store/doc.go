// Package store defines interfaces for session history (one record per watch
// session). Implementations live in other packages; this package must not
// import concrete clients.
package store
