// Package activity buffers per-interaction events in Redis and turns idle
// sessions into durable flush records.
//
// Protocol:
//
//   - Buffer.Append pushes events onto <prefix>:session:<id>:events and resets
//     <prefix>:session:<id>:timer to expire after the inactivity window, both
//     inside one MULTI/EXEC.
//   - Redis publishes a keyevent notification when the timer expires. One
//     Watcher per process subscribes to those notifications and hands the
//     interaction id to the Pipeline.
//   - Pipeline.Flush reads and deletes the event log, summarizes it (falling
//     back to a deterministic sentence), and appends a record to the sink.
//
// A session moves idle -> active (first append) -> expiring (timer set, no
// further appends) -> idle (flushed). Any append while expiring returns it to
// active. Flushing an empty log leaves it idle and writes nothing, which is
// why duplicate notifications are harmless.
//
// Delivery is best effort. Keyevent notifications are fire-and-forget: a
// notification published while no watcher is subscribed is lost and its
// events stay in the cache until the opt-in Sweeper picks them up.
package activity
