// Package logs reads the daemon log file for the CLI.
//
// Last returns the final lines with bounded memory. Follow streams appended
// lines and starts over from the top when lumberjack rotates the file out from
// under it.
package logs
