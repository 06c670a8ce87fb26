package profile

import "github.com/redis/go-redis/v9"

// Profile writes that must not resurrect or half-create a user hash run as
// Lua so the existence check and the writes are one atomic step.

// createProfile claims KEYS[1] with HSETNX on ARGV[2]=ARGV[3], then writes the
// field/value pairs from ARGV[4] on and sets a PEXPIRE of ARGV[1] ms.
// Returns 0 when the profile already exists.
var createProfile = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[2], ARGV[3]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// setIfExists writes the field/value pairs from ARGV[2] on into KEYS[1] only
// if it exists. ARGV[1] is a PEXPIRE in ms; 0 keeps the current expiry.
// Returns 0 when the hash is gone.
var setIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
if tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

// recordIfExists pushes ARGV[1] onto the activity list KEYS[2], trims it to
// ARGV[2] entries, increments field ARGV[4] of the profile KEYS[1] and
// refreshes its PEXPIRE of ARGV[3] ms. Returns the new count, or -1 without
// writing anything when the profile does not exist.
var recordIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[2]) - 1)
local n = redis.call('HINCRBY', KEYS[1], ARGV[4], 1)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return n
`)
