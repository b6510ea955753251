/*
Package worker implements the background compute units of the playground.

The transform Pool is a persistent set of goroutines running a Transformer
(esbuild by default). Post is fire-and-forget; each reply arrives on
Messages as a single JSON string:

	{"filename":"index.js","type":"code","code":"..."}
	{"filename":"index.js","type":"error","error":{"message":"index.js:1:7: ..."}}

With more than one worker, replies for the same filename may arrive out of
order. The display channel shares the pool; its filenames carry the
DisplayPrefix so the two never collide.

The InfoClient talks to a single lazily started InfoWorker through request
ids. It is best-effort: timeouts, worker errors and replies without data
all mean "no information".
*/
package worker
