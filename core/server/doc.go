// Package server holds the configuration of the status HTTP server.
package server
