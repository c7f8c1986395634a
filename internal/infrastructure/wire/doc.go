// Package wire holds the pieces shared by the broker transports.
//
// A Window bounds the number of asynchronous publishes awaiting broker
// acknowledgement. A transport calls Submit for every publish: a false
// return is reported to the messaging layer as would-block, and the
// completion callback is where the transport signals CanSend.
//
// Compress applies zlib (klauspost/compress) at the configured
// compression level; level 0 passes payloads through untouched. Neither
// MQTT 3.1.1 nor PUBLISH carries a per-message header, so a compressed
// payload is a bare RFC 1950 zlib stream (first byte 0x78) and subscribers
// must inflate it, for example with Decompress. The MQTT transport
// announces the encoding in its retained online status.
package wire
