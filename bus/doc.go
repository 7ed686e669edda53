// Package bus implements the sharing endpoints on top of MQTT 3.1.1 framing.
//
// There is no broker. Each endpoint is its own listener:
// - Publisher is one-to-many, every connected client receives what matches its subscriptions
// - Pair is bidirectional with a single peer, a new connection replaces the old one
//
// Payload is opaque, the package never looks inside. Delivery is QoS 0 towards
// clients. Every client connection has a send queue of SendHWM messages,
// messages published to a full queue are dropped. On close, queued messages
// are flushed for at most Linger.
package bus
