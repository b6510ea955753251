/*
Package pipeline connects the compile workers to the sandbox.

An Orchestrator submits every file on load and on each edit, caches the
compiled code returned by the workers and re-runs the entry whenever every
file of the file map has been compiled at least once. Replies for the same
filename are applied in arrival order, so a slow reply for an older edit
can overwrite a newer one; StrictGenerations drops such replies instead.

The host observes everything through events:

	run            a run started, logs were cleared
	console        log or clear from sandboxed code
	error          the run failed
	complete       the run finished
	compilerError  a worker reported a diagnostic, or the last one cleared
	display        display channel code arrived
	change         the file map changed after an edit
	warning        configuration the host should know about
*/
package pipeline
