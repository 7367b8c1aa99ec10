// Package engine runs script-backed tasks and dispatches stop requests.
//
// Every script evaluation gets its own goroutine and its own sandboxed
// runtime. Host functions write progress straight to the task store and
// consult a per-task abort flag, so cancellation is cooperative: a stop
// request finalizes the task in the store immediately and the script
// notices at its next host call. Tasks owned by other components are
// stopped by forwarding the request to the owner.
package engine
