package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const ledgerKeyPrefix = "quota:ledger:"

// luaConsume performs rollover, de-dup, limit check and increment in one
// script; Redis runs scripts without interleaving other commands.
//
// KEYS[1] = ledger hash (fields used, reset_at in unix ms)
// KEYS[2] = item set of the current window
// ARGV[1] = now (unix ms)
// ARGV[2] = period (ms)
// ARGV[3] = quota
// ARGV[4] = 1 if repeat items are free in this category
// ARGV[5] = item id, "" for none
// ARGV[6] = 1 for the strict anchor
//
// Returns {decision, used, reset_at, rolled}; decision is 0 consumed,
// 1 already counted, 2 rejected.
const luaConsume = `
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local quota = tonumber(ARGV[3])
local dedup = ARGV[4] == '1'
local item = ARGV[5]
local strict = ARGV[6] == '1'

local used = tonumber(redis.call('HGET', KEYS[1], 'used'))
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset_at'))
local rolled = 0

if used == nil or reset == nil then
    used = 0
    reset = now + period
    redis.call('DEL', KEYS[2])
    redis.call('HSET', KEYS[1], 'used', '0', 'reset_at', string.format('%d', reset))
elseif now >= reset then
    if strict and period > 0 then
        reset = reset + (math.floor((now - reset) / period) + 1) * period
    else
        reset = now + period
    end
    used = 0
    rolled = 1
    redis.call('DEL', KEYS[2])
    redis.call('HSET', KEYS[1], 'used', '0', 'reset_at', string.format('%d', reset))
end

if dedup and item ~= '' and redis.call('SISMEMBER', KEYS[2], item) == 1 then
    return {1, used, reset, rolled}
end

if used + 1 > quota then
    return {2, used, reset, rolled}
end

used = redis.call('HINCRBY', KEYS[1], 'used', 1)
if item ~= '' then
    redis.call('SADD', KEYS[2], item)
end
return {0, used, reset, rolled}
`

// RedisLedger is a Ledger kept in Redis. Entries have no TTL; they live for
// the lifetime of the user like the PostgreSQL rows.
type RedisLedger struct {
	rdb    redis.Cmdable
	window Window
	script *redis.Script
}

// NewRedisLedger creates a new Redis-backed ledger.
func NewRedisLedger(rdb redis.Cmdable, window Window) *RedisLedger {
	return &RedisLedger{
		rdb:    rdb,
		window: window,
		script: redis.NewScript(luaConsume),
	}
}

// ledgerKeys share a hash tag so both keys land on one cluster slot.
func ledgerKeys(userID uuid.UUID, category Category) (hash, items string) {
	tag := fmt.Sprintf("{%s:%s}", userID.String(), category)
	return ledgerKeyPrefix + tag, ledgerKeyPrefix + tag + ":items"
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Consume runs the consume script for the request's key.
func (l *RedisLedger) Consume(ctx context.Context, req ConsumeRequest) (Outcome, error) {
	hashKey, itemsKey := ledgerKeys(req.UserID, req.Category)

	vals, err := l.script.Run(ctx, l.rdb, []string{hashKey, itemsKey},
		req.Now.UnixMilli(),
		Period(req.Allowance.PeriodDays).Milliseconds(),
		req.Allowance.Quota,
		boolArg(req.Category.dedups()),
		req.ItemID,
		boolArg(l.window.Anchor() == AnchorStrict),
	).Int64Slice()
	if err != nil {
		return Outcome{}, storeErr("running consume script", err)
	}
	if len(vals) != 4 {
		return Outcome{}, storeErr("running consume script", fmt.Errorf("unexpected reply length %d", len(vals)))
	}

	return Outcome{
		Decision:   Decision(vals[0]),
		Used:       int(vals[1]),
		ResetAt:    time.UnixMilli(vals[2]).UTC(),
		RolledOver: vals[3] == 1,
	}, nil
}

// Get reads the entry without applying rollover.
func (l *RedisLedger) Get(ctx context.Context, userID uuid.UUID, category Category) (*Entry, error) {
	hashKey, itemsKey := ledgerKeys(userID, category)

	pipe := l.rdb.Pipeline()
	fieldsCmd := pipe.HMGet(ctx, hashKey, "used", "reset_at")
	itemsCmd := pipe.SMembers(ctx, itemsKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, storeErr("reading ledger entry", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) != 2 || fields[0] == nil || fields[1] == nil {
		return nil, nil
	}

	used, err := strconv.Atoi(fmt.Sprint(fields[0]))
	if err != nil {
		return nil, storeErr("parsing ledger used", err)
	}
	resetMs, err := strconv.ParseInt(fmt.Sprint(fields[1]), 10, 64)
	if err != nil {
		return nil, storeErr("parsing ledger reset_at", err)
	}

	items := itemsCmd.Val()
	if items == nil {
		items = []string{}
	}
	return &Entry{
		UserID:   userID,
		Category: category,
		Used:     used,
		ResetAt:  time.UnixMilli(resetMs).UTC(),
		Items:    items,
	}, nil
}

var _ Ledger = (*RedisLedger)(nil)
