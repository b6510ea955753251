// Package cli implements the playground command line.
//
//	playground run [dir]     compile and run a workspace once
//	playground watch [dir]   re-run on every file change
//	playground serve         start the HTTP and WebSocket server
package cli
