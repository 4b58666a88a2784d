// Package graph is the transactional apply layer for model graphs.
//
// ARCHITECTURE:
//
//	queue writer goroutine
//	        |
//	        v
//	   Applier.ExecuteBatch --- one store.Tx per batch ---> SQLite
//	        |
//	        v (after commit)
//	   Notifier.Publish ---> subscribers (processor, snapshot cache)
//
// A batch runs in three phases: every createElement first, then every other
// non-delete change in submission order, then delete-class changes. Temp ids
// declared by creators resolve to real ids as their creator runs. Any failing
// change rolls the whole batch back.
//
// Failure messages name the change kind and the missing entity, e.g.
// "deleteView: cannot find view: id-missing", so callers can attribute the
// failure to a change.
package graph
