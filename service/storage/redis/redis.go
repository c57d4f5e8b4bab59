// Package redis builds the shared go-redis client from configuration.
package redis

import (
	"context"
	"time"

	"PPLink/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Config 用于初始化 Redis；多个地址时走 cluster/sentinel 客户端。
type Config struct {
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"masterName"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	PoolSize   int      `mapstructure:"poolSize"`
}

func (c Config) options() (*redis.UniversalOptions, error) {
	if len(c.Addrs) == 0 {
		return nil, errs.ErrArgs.WrapMsg("redis addrs missing")
	}
	return &redis.UniversalOptions{
		Addrs:      c.Addrs,
		MasterName: c.MasterName,
		Password:   c.Password,
		DB:         c.DB,
		PoolSize:   c.PoolSize,
	}, nil
}

// New connects and pings within 3s.
func New(ctx context.Context, c Config) (redis.UniversalClient, error) {
	opts, err := c.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewUniversalClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.ErrTransient.WrapMsg("redis ping: "+err.Error(), "addrs", c.Addrs)
	}
	return rdb, nil
}
