package coordination

import "github.com/redis/go-redis/v9"

// All scripts take the caller's clock in milliseconds as an argument so every
// gateway evaluates against the same time base it uses locally. A key that
// holds state of another algorithm is discarded and started fresh.

const typeOf = `
local function typeof(key)
  local kind = redis.call('TYPE', key)
  if type(kind) == 'table' then kind = kind.ok end
  return kind
end
`

// KEYS[1] bucket; ARGV capacity, rate/s, now_ms
var tokenBucketScript = redis.NewScript(typeOf + `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local kind = typeof(key)
if kind ~= 'none' and (kind ~= 'hash' or redis.call('HEXISTS', key, 'tokens') == 0) then
  redis.call('DEL', key)
end

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) / 1000 * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(ts), 'capacity', tostring(capacity), 'rate', tostring(rate))
redis.call('PEXPIRE', key, math.ceil(capacity / rate * 1000) + 1000)
return allowed
`)

// KEYS[1] log; ARGV max, window_ms, now_ms, member
var slidingWindowScript = redis.NewScript(typeOf + `
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local kind = typeof(key)
if kind ~= 'none' and kind ~= 'zset' then
  redis.call('DEL', key)
end

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) < max then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return 1
end
return 0
`)

// KEYS[1] counter; ARGV max, window_ms, now_ms
var fixedWindowScript = redis.NewScript(typeOf + `
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local start = now - (now % window)

local kind = typeof(key)
if kind ~= 'none' and (kind ~= 'hash' or redis.call('HEXISTS', key, 'count') == 0) then
  redis.call('DEL', key)
end

local state = redis.call('HMGET', key, 'start', 'count')
local count = 0
if tonumber(state[1]) == start then
  count = tonumber(state[2]) or 0
end

if count + 1 > max then
  return 0
end

redis.call('HSET', key, 'start', start, 'count', count + 1, 'window', window)
redis.call('PEXPIRE', key, start + window - now)
return 1
`)

// KEYS[1]; ARGV max, now_ms
//
// Sliding logs do not store their window; it is recovered from the expiry
// set at the newest insert (expiry = newest + window).
var remainingScript = redis.NewScript(typeOf + `
local key = KEYS[1]
local max = tonumber(ARGV[1])
local now = tonumber(ARGV[2])

local kind = typeof(key)
if kind == 'zset' then
  local ttl = redis.call('PTTL', key)
  local newest = redis.call('ZRANGE', key, -1, -1, 'WITHSCORES')
  if ttl <= 0 or #newest < 2 then
    return max
  end
  local window = ttl + now - tonumber(newest[2])
  local count = redis.call('ZCOUNT', key, '(' .. (now - window), '+inf')
  return math.max(0, max - count)
end

if kind == 'hash' then
  local b = redis.call('HMGET', key, 'tokens', 'ts', 'capacity', 'rate')
  if b[1] then
    local tokens = tonumber(b[1])
    local ts = tonumber(b[2])
    if now > ts then
      tokens = math.min(tonumber(b[3]), tokens + (now - ts) / 1000 * tonumber(b[4]))
    end
    return math.floor(tokens)
  end

  local w = redis.call('HMGET', key, 'start', 'count', 'window')
  if w[1] then
    if now >= tonumber(w[1]) + tonumber(w[3]) then
      return max
    end
    return math.max(0, max - tonumber(w[2]))
  end
end

return max
`)

// KEYS[1]; ARGV algorithm, now_ms
var timeToLiveScript = redis.NewScript(typeOf + `
local key = KEYS[1]
local algorithm = ARGV[1]
local now = tonumber(ARGV[2])
local kind = typeof(key)

if algorithm == 'token_bucket' or algorithm == 'leaky_bucket' then
  if kind ~= 'hash' then
    return 0
  end
  local b = redis.call('HMGET', key, 'tokens', 'ts', 'capacity', 'rate')
  if not b[1] then
    return 0
  end
  local tokens = tonumber(b[1])
  local ts = tonumber(b[2])
  local rate = tonumber(b[4])
  if now > ts then
    tokens = math.min(tonumber(b[3]), tokens + (now - ts) / 1000 * rate)
  end
  if tokens >= 1 then
    return 0
  end
  return math.ceil((1 - tokens) / rate)
end

if algorithm == 'fixed_window' then
  if kind ~= 'hash' then
    return 0
  end
  local ttl = redis.call('PTTL', key)
  if ttl <= 0 then
    return 0
  end
  return math.ceil(ttl / 1000)
end

if kind ~= 'zset' then
  return 0
end
local ttl = redis.call('PTTL', key)
local newest = redis.call('ZRANGE', key, -1, -1, 'WITHSCORES')
if ttl <= 0 or #newest < 2 then
  return 0
end
local window = ttl + now - tonumber(newest[2])
local oldest = redis.call('ZRANGEBYSCORE', key, '(' .. (now - window), '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
if #oldest < 2 then
  return 0
end
return math.max(0, math.ceil((tonumber(oldest[2]) + window - now) / 1000))
`)
