// Package redis opens the Redis connections shared by the nonce allocator and
// the transfer queue.
package redis
