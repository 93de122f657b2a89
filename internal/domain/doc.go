// Package domain defines the value types shared by the ledger, its storage
// and its HTTP surface.
package domain
