// Package registry discovers, validates and indexes stage classes.
//
// Stage implementations are compiled into the binary and contributed to a
// Catalog through an init-style Module.Register call per stage package. A
// search path holds stage manifests (*.stage.yaml, *.stage.yml or
// *.stage.hcl) that declare a stage class: its implementation name, which
// binds it to a compiled factory, its display name, kind, declared
// dimensionality and parameter schema.
//
// The Registry indexes classes by implementation name and by display name.
// Display names are the address space the rest of the system uses, so a
// display-name collision between two different implementations is rejected
// with a *RegistrationConflictError. Malformed manifests are skipped with a
// warning and never abort a scan.
//
// The Registry initializes lazily: the first lookup registers the search
// paths remembered by its PathStore plus any configured default paths. It
// is safe for concurrent use; lookups only take a read lock.
package registry
