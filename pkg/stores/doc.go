// Package stores provides the run journal. SQLiteStore keeps runs, the
// actions they recorded and the residuals verification found, with schema
// migrations embedded in the binary. Journal adapts a Store to
// engine.Observer so a run can be recorded without the engine knowing about
// persistence.
package stores
