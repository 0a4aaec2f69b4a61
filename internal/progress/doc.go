// Package progress carries crawl progress events from the run loop to
// pluggable sinks. Emitters never block: a Hub batches events on a background
// goroutine and drops them under backpressure rather than slowing a crawl.
package progress
