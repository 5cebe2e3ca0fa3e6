package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 15 * time.Second

// CacheService - кэш сводок resolve в Redis
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

type CacheConfig struct {
	Addr     string
	User     string
	Password string
	TTL      time.Duration
}

func NewCacheService(ctx context.Context, cfg CacheConfig) (serv *CacheService, err error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is not set")
	}
	db := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		Username:    cfg.User,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	err = db.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}
	return newCacheService(db, cfg.TTL), nil
}

func newCacheService(client *redis.Client, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CacheService{client, ttl}
}

func summaryKey(merchantID uuid.UUID, code string) string {
	return "loyalty:summary:" + merchantID.String() + ":" + code
}

func (c *CacheService) GetSummary(ctx context.Context, merchantID uuid.UUID, code string) (*model.CustomerSummary, error) {
	val, err := c.client.Get(ctx, summaryKey(merchantID, code)).Bytes()
	if err == redis.Nil {
		return nil, model.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	summary := &model.CustomerSummary{}
	if err := json.Unmarshal(val, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (c *CacheService) SetSummary(ctx context.Context, merchantID uuid.UUID, code string, s *model.CustomerSummary) error {
	j, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(merchantID, code), j, c.ttl).Err()
}

func (c *CacheService) InvalidateSummary(ctx context.Context, merchantID uuid.UUID, code string) error {
	return c.client.Del(ctx, summaryKey(merchantID, code)).Err()
}

func (c *CacheService) Close() error {
	return c.client.Close()
}
