// Package logger provides structured logging over zerolog.
//
// Loggers are values scoped by service and component; fields are passed as
// maps so call sites stay free of zerolog types:
//
//	log := logger.NewDefault("taskflow").WithComponent("scheduler")
//	log.Info("node completed", logger.Fields(logger.FieldNodeID, "resize"))
package logger
