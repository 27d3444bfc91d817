// Package database wraps GORM with connection retries, pool settings,
// a zerolog-backed query logger, transaction helpers and lifecycle
// management through component.Component.
//
// The driver is chosen by the caller through a Dialector factory; the
// service defaults to SQLite.
//
//	comp := database.NewComponent(cfg, log).WithAutoMigrate(&Model{})
package database
