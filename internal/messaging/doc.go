// Package messaging owns the message-bus connection: a supervised
// MQTT v5 client with an explicit Disconnected/Connecting/Connected
// state machine, bounded exponential backoff on connect failures, and
// best-effort fire-and-forget publishing.
//
// The supervisor runs in its own goroutine ([Client.Run]). Connect
// attempts back off 2s, 4s, ... capped at 60s; after the retry budget
// is spent the client surfaces a degraded status and keeps probing at
// a fixed poll interval instead of blocking the rest of the node. On
// every (re-)connect it publishes the device self-description to the
// meta topic and re-subscribes to all registered topics, exactly once
// per connection. Changing the target endpoint takes effect on the
// next connection attempt; an established connection is never torn
// down by a reconfiguration.
package messaging
