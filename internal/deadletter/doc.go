// Package deadletter journals messages the publisher accepted but could
// not deliver.
//
// A message lands here when the worker's transport publish fails, when the
// service goes down with direct-mode messages still buffered, or when
// Publisher.Terminate runs out of grace with messages left in the buffer.
// Letters keep the payload, properties and correlation tag so an operator
// can inspect or replay them.
//
// Usage:
//
//	repo := deadletter.NewSQLiteRepository(db.DB)
//	rec := deadletter.NewRecorder(repo, svc.ApplicationID(), logger)
//	pub.SetPublishFailureListener(rec.FailureListener())
//	...
//	rec.RecordTermination(pub.Terminate(grace))
package deadletter
