// Package buffer provides a thread-safe ring buffer that keeps a sliding
// window of the most recent elements, overwriting the oldest when full.
package buffer
