// Package app contains the application logic behind every command. It owns
// the logger, the metrics and the lifecycle of a build context, decoupled
// from the command line that drives it.
package app
