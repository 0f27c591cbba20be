package store

import "github.com/redis/go-redis/v9"

// KEYS: doc, name index, url index, recent list
// ARGV: id, name, url, status, created_at, updated_at, score
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 or redis.call('EXISTS', KEYS[3]) == 1 then
  return 0
end
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'name', ARGV[2], 'url', ARGV[3], 'status', ARGV[4],
  'attempt', '0', 'created_at', ARGV[5], 'updated_at', ARGV[6])
redis.call('ZADD', KEYS[4], ARGV[7], ARGV[1])
return 1
`)

// KEYS: doc
// ARGV: pending, updated_at
var resubmitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'summary', 'error')
return 1
`)

// KEYS: doc
// ARGV: pending, processing, updated_at
var beginScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= ARGV[1] and status ~= ARGV[2] then
  return -1
end
local attempt = redis.call('HINCRBY', KEYS[1], 'attempt', 1)
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
return attempt
`)

// KEYS: doc
// ARGV: attempt, processing, new status, updated_at, field, value, field to clear ('' for none)
var finishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[2] then
  return -1
end
if redis.call('HGET', KEYS[1], 'attempt') ~= ARGV[1] then
  return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'updated_at', ARGV[4], ARGV[5], ARGV[6])
if ARGV[7] ~= '' then
  redis.call('HDEL', KEYS[1], ARGV[7])
end
return 1
`)
