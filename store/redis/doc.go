// Package redis implements store.Store on Redis with go-redis/v9.
//
// Every record is a msgpack blob under its own key. Sorted sets index
// queues, runs, events and dead letters by time. Read-modify-write
// operations run under WATCH, and the run lock and cluster lease are
// single-key leases set by Lua scripts.
//
// The caller owns the client:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
