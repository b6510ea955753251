// Package main is the playground command line: run a workspace once,
// re-run it on every change, or serve sessions over HTTP.
package main
