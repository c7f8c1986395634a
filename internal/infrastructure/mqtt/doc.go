// Package mqtt provides the MQTT transport for the Gray Logic publisher.
//
// This package manages:
//   - Session setup on eclipse/paho.mqtt.golang with connection retries
//   - Automatic reconnection reported as reconnecting/reconnected events
//   - Service-down detection once reconnection attempts are exhausted
//   - Asynchronous publishing through a bounded in-flight window
//   - Last Will and Testament (LWT) and online/offline status
//
// # Architecture
//
// Transport implements messaging.Transport. The messaging layer owns
// back-pressure; this package only reports it:
//
//	Publisher -> Transport.Publish -> wire.Window -> paho token
//	                   ^                               |
//	                   +-------- OnCanSend <-----------+
//
// A publish returns would-block while Options.InFlight tokens are pending.
// Each completed token frees a slot and signals CanSend. A token that
// completes with an error is reported through OnPublishFailed.
//
// # Payload Encoding
//
// With a non-zero compression level every data payload is a zlib stream
// and subscribers must inflate it (wire.Decompress). MQTT 3.1.1 has no
// per-message properties, so the retained online status carries
// "payload_encoding": "zlib" instead.
//
// # Security Considerations
//
//   - Use an ssl:// or tls:// broker URI in production; TLS 1.2 is the minimum
//   - Credentials are validated against broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	tr, err := mqtt.NewTransport(mqtt.Options{QoS: 1, InFlight: 64})
//	if err != nil {
//	    return err
//	}
//	tr.SetLogger(logger)
//	svc, err := messaging.NewService(tr, transportCfg)
package mqtt
