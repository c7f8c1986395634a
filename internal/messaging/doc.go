// Package messaging is the connection lifecycle and back-pressured publish
// pipeline of the Gray Logic publisher.
//
// This package manages:
//   - The session state machine (connect, disconnect, service down)
//   - Reconnection and interruption listeners, delivered on one goroutine
//   - Publishers with none/reject/block back-pressure and a bounded buffer
//   - Flow control between publishers and the transport (would-block, can-send)
//   - Readiness notifications and graceful termination
//
// # Architecture
//
//	application → Service.Connect → Transport session
//	application → Publisher.Publish → buffer → worker → Transport.Publish
//	Transport → OnCanSend / OnServiceDown / OnReconnected / OnReconnecting → Service
//
// The broker protocol lives behind the Transport interface; the mqtt and
// valkey packages under internal/infrastructure implement it.
//
// # Goroutines
//
//   - One event dispatcher per Service, started with the first listener
//   - One worker per buffered Publisher, started by Start
//   - One readiness goroutine per Publisher with a readiness listener
//
// Every goroutine is joined by Disconnect or Terminate; nothing relies on
// garbage collection for cleanup.
//
// # Usage
//
//	svc, err := messaging.NewService(transport, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    return err
//	}
//	defer svc.Disconnect()
//
//	pub, err := svc.NewPublisher(messaging.PublisherConfig{
//	    BackPressure:   messaging.BackPressureReject,
//	    BufferCapacity: 1000,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := pub.Start(); err != nil {
//	    return err
//	}
//	err = pub.PublishString(`{"on":true}`, "graylogic/events/light")
//	if errors.Is(err, messaging.ErrPublisherOverflow) {
//	    // wait for the readiness listener, then retry
//	}
//	return pub.Terminate(5 * time.Second)
package messaging
