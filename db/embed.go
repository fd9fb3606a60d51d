// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL for products, units, carts, orders and order items.
// Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
