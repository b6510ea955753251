/*
Package sandbox evaluates compiled CommonJS modules inside goja.

# Overview

A run starts from an entry file and an immutable snapshot of compiled
files. Every run gets a fresh VM and a fresh EvaluationContext, so the
only state shared between runs is what the host registered up front: the
vendor registry, the host environment and the prelude.

Each module is wrapped as

	(function (exports, require, module, console) {
	<code>
	})

and sees exactly those four bindings. Reported line numbers are shifted
back by PrefixLineCount.

# Resolution

require(specifier) from file F is resolved in this order:

 1. host capability (Environment.HasModule)
 2. relative path joined with dir(F), exact filename first, then the
    filename with its extension stripped
 3. unmatched relative path: an AssetDescriptor under Config.AssetRoot
 4. vendor value
 5. vendor source, evaluated once per run
 6. ModuleNotFoundError

Requiring the entry file from any module fails with CyclicEntryError.
Other require cycles return the partially populated module.exports.

# Limits

Config.Timeout and context cancellation interrupt the VM. Timers are
accepted but never fire.
*/
package sandbox
