//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-backed authgate storage adapter. It supports
// any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.) and is
// suitable for production deployments requiring relational storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: User accounts
//   - accounts: Provider accounts linked to users, with the provider tokens
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	if err := gormstore.AutoMigrate(db); err != nil {
//	    log.Fatal(err)
//	}
//	adapter := gormstore.NewAdapter(db)
package gorm
