// Package redisstore implements the session store on Redis.
//
// Sessions are hashes created atomically by a Lua script. Results of a session
// live in one sorted set scored by chunk number; each member is prefixed with a
// zero-padded sequence number so equal chunk numbers keep insertion order.
package redisstore
