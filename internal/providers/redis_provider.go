package providers

import "github.com/go-redis/redis/v8"

// NewRedisProvider builds the shared client for the run store. Both the API
// and the worker connect with the same options so a run written by one is
// immediately visible to the other.
func NewRedisProvider(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}
