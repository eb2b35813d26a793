// Package connection owns the single persistent WebSocket link to the
// inference backend.
//
// Client wraps one gorilla/websocket connection with channel-based reads.
// Manager turns it into an always-available resource: an explicit state
// machine (disconnected -> connecting -> open -> closing) with exponential
// backoff reconnection up to a configured attempt cap. Inbound frames are
// decoded into protocol events and handed to the Dispatcher; outbound
// requests are serialized onto the shared transport.
package connection
