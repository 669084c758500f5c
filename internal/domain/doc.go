// Package domain holds the record shapes persisted by the council subsystem.
//
// These types are storage-agnostic; each store backend maps them onto its own
// rows or hashes.
package domain
