// Package redis builds the shared go-redis client used by the rate limiter
// and the settlement queue.
package redis
