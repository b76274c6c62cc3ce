// Package rbac is the authored role -> permission table for the portal and the
// lookups used by authorization gates.
//
// The table is a single flat literal so who-can-do-what can be audited by
// reading one file. Lookups are total: an unknown role or an unknown permission
// is simply not allowed, there is no error path.
package rbac
