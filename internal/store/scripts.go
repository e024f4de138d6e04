package store

import "github.com/redis/go-redis/v9"

// Each mutation runs as one server-side script so a record is visible on the
// primary keyspace and both secondary indexes atomically, or not at all.
// Index members carry score 0: lexical range scans (ZRANGEBYLEX) require a
// uniform score, and the member prefix already encodes chronology.

// KEYS: item, tenant zset, owner zset, expiry zset
// ARGV: record JSON, tenant member, owner member, expiry score
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("ZADD", KEYS[2], 0, ARGV[2])
redis.call("ZADD", KEYS[3], 0, ARGV[3])
redis.call("ZADD", KEYS[4], ARGV[4], KEYS[1])
return 1
`)

// KEYS: item, tenant zset, owner zset
// ARGV: record JSON, old tenant member, new tenant member, old owner member, new owner member
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
if ARGV[2] ~= ARGV[3] then
  redis.call("ZREM", KEYS[2], ARGV[2])
  redis.call("ZADD", KEYS[2], 0, ARGV[3])
  redis.call("ZREM", KEYS[3], ARGV[4])
  redis.call("ZADD", KEYS[3], 0, ARGV[5])
end
return 1
`)

// KEYS: item, tenant zset, owner zset, expiry zset
// ARGV: tenant member, owner member
var deleteScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[2])
redis.call("ZREM", KEYS[4], KEYS[1])
return 1
`)
