// Package accounts is the portal's account directory and password check.
//
// The relational store that owns accounts in production sits behind the
// [Directory] interface. This package ships a read-only in-memory directory
// loaded from a YAML seed file, used for local development and tests.
//
// Seed file format:
//
//	accounts:
//	  - id: 6f1c...          # optional, a UUID is generated when empty
//	    email: ada@example.com
//	    name: Ada Lovelace
//	    role: instructor     # admin | instructor | parent | student (child)
//	    password_hash: $2a$10$...
//	    active: true         # optional, defaults to true
package accounts
