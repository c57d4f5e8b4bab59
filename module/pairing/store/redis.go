package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"PPLink/module/pairing/model"
	"PPLink/tools/errs"

	"github.com/redis/go-redis/v9"
)

// 原子状态迁移
// KEYS[1] = challenge hash key
// ARGV[1] = expected state
// ARGV[2] = target state
// ARGV[3] = authorizing user id ("" = keep)
// ARGV[4] = now (unix ms)
// 返回：1 成功；0 不存在或已过期；-1 状态不符
const luaChallengeCAS = `
local k    = KEYS[1]
local from = ARGV[1]
local to   = ARGV[2]
local uid  = ARGV[3]
local now  = tonumber(ARGV[4])

if redis.call("EXISTS", k) == 0 then
  return 0
end
local exp = tonumber(redis.call("HGET", k, "expires_ms"))
if exp == nil or exp <= now then
  return 0
end
if redis.call("HGET", k, "state") ~= from then
  return -1
end
redis.call("HSET", k, "state", to, "updated_ms", now)
if uid ~= "" then
  redis.call("HSET", k, "user", uid)
end
return 1
`

// Redis keeps each challenge in a hash plus a token->id pointer. Both keys
// expire at the challenge's expiry, so Purge has nothing to do.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	cas    *redis.Script
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "pair"
	}
	return &Redis{rdb: rdb, prefix: prefix, cas: redis.NewScript(luaChallengeCAS)}
}

// pair:c:<id>
func (r *Redis) challengeKey(id string) string {
	return fmt.Sprintf("%s:c:%s", r.prefix, id)
}

// pair:t:<token>
func (r *Redis) tokenKey(token string) string {
	return fmt.Sprintf("%s:t:%s", r.prefix, token)
}

func (r *Redis) Create(ctx context.Context, c *model.Challenge) error {
	tk := r.tokenKey(c.Token)
	err := r.rdb.SetArgs(ctx, tk, c.ID, tokenSetArgs(c)).Err()
	if errors.Is(err, redis.Nil) {
		return errs.ErrArgs.WrapMsg("duplicate challenge token")
	}
	if err != nil {
		return transient(err, "set token")
	}
	ck := r.challengeKey(c.ID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.PExpireAt(ctx, tk, c.ExpiresAt)
		p.HSet(ctx, ck,
			"id", c.ID,
			"token", c.Token,
			"state", string(c.State),
			"user", c.AuthorizingUserID,
			"created_ms", c.CreatedAt.UnixMilli(),
			"expires_ms", c.ExpiresAt.UnixMilli(),
			"updated_ms", c.CreatedAt.UnixMilli(),
		)
		p.PExpireAt(ctx, ck, c.ExpiresAt)
		return nil
	})
	if err != nil {
		_ = r.rdb.Del(ctx, tk).Err()
		return transient(err, "write challenge")
	}
	return nil
}

// tokenSetArgs claims the token pointer only if it is free and never
// without an expiry: EXAT has second precision, the pipeline in Create
// then pins it to the millisecond.
func tokenSetArgs(c *model.Challenge) redis.SetArgs {
	return redis.SetArgs{Mode: "NX", ExpireAt: c.ExpiresAt}
}

func (r *Redis) GetByID(ctx context.Context, id string) (*model.Challenge, error) {
	m, err := r.rdb.HGetAll(ctx, r.challengeKey(id)).Result()
	if err != nil {
		return nil, transient(err, "hgetall challenge")
	}
	if len(m) == 0 {
		return nil, notFound("id", id)
	}
	return decodeChallenge(m)
}

func (r *Redis) GetByToken(ctx context.Context, token string) (*model.Challenge, error) {
	id, err := r.rdb.Get(ctx, r.tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound()
		}
		return nil, transient(err, "get token")
	}
	return r.GetByID(ctx, id)
}

func (r *Redis) CompareAndSwap(ctx context.Context, id string, from, to model.State, userID string, now time.Time) (*model.Challenge, error) {
	code, err := r.cas.Run(ctx, r.rdb, []string{r.challengeKey(id)},
		string(from), string(to), userID, now.UnixMilli()).Int()
	if err != nil {
		return nil, transient(err, "cas challenge")
	}
	switch code {
	case 1:
		return r.GetByID(ctx, id)
	case 0:
		return nil, notFound("id", id)
	default:
		cur, gerr := r.GetByID(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, stateMismatch(id, from, cur.State)
	}
}

func (r *Redis) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func decodeChallenge(m map[string]string) (*model.Challenge, error) {
	ms := func(field string) (time.Time, error) {
		v, err := strconv.ParseInt(m[field], 10, 64)
		if err != nil {
			return time.Time{}, errs.WrapMsg(err, "decode challenge", "field", field)
		}
		return time.UnixMilli(v).UTC(), nil
	}
	c := &model.Challenge{
		ID:                m["id"],
		Token:             m["token"],
		State:             model.State(m["state"]),
		AuthorizingUserID: m["user"],
	}
	var err error
	if c.CreatedAt, err = ms("created_ms"); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = ms("expires_ms"); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = ms("updated_ms"); err != nil {
		return nil, err
	}
	return c, nil
}
