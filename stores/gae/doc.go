//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore authgate storage adapter. It
// is designed for deployment on Google Cloud Platform and supports
// multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: User accounts
//   - Account: Provider accounts linked to users, keyed by provider and
//     provider account id
//
// # Namespacing
//
// Pass a namespace when creating the adapter to isolate data between
// tenants:
//
//	adapter := gae.NewAdapter(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	adapter := gae.NewAdapter(client, "") // default namespace
package gae
