// Package crash captures uncaught faults as Crash messages.
//
// Go has no process-wide uncaught panic hook, so faults are observed in two
// ways. Goroutines guarded with Recover (or started with Go) report their
// panic to every installed Handler before the panic continues. Faults in
// unguarded goroutines are written by the runtime to a crash output file
// and converted to Crash messages the next time capture starts.
package crash
