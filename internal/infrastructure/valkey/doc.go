// Package valkey provides the Valkey (Redis protocol) transport for the
// Gray Logic publisher.
//
// Messages are sent with PUBLISH on a channel named after the destination
// topic. Only the payload travels; message properties and correlation tags
// stay with the publisher for failure reporting.
//
// With a non-zero compression level the payload is a zlib stream and
// subscribers must inflate it (wire.Decompress). PUBLISH has no headers to
// mark this, so consumers are configured with the same compression level.
// A PUBLISH error is reported through OnPublishFailed.
//
// valkey-go pipelines commands over its own connections and redials
// transparently, so this package watches the session with a periodic PING
// and turns failures into reconnecting, reconnected and service-down events.
//
// Usage:
//
//	tr := valkey.NewTransport(valkey.Options{InFlight: 64})
//	tr.SetLogger(logger)
//	svc, err := messaging.NewService(tr, transportCfg)
package valkey
