package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// RedisTLS groups the Redis/Valkey client's auth and TLS settings.
type RedisTLS struct {
	Username string
	Password string
	DB       int
	Enabled  bool
	CAFile   string
}

type redisStore struct {
	client valkey.Client
	tuning Tuning
}

// NewRedis builds a Redis/Valkey-backed Store (spec §6's redisUrl
// collaborator), adapted from the teacher's valkey-go client wiring with
// TTR-aware stale-while-revalidate layered on top of plain TTL storage.
func NewRedis(addr string, tuning Tuning, tlsCfg RedisTLS) (Store, error) {
	if addr == "" {
		return nil, errors.New("cache: redis address required")
	}
	if tuning.TTL <= 0 {
		tuning.TTL = 30 * 24 * time.Hour
	}
	if tuning.TTR <= 0 {
		tuning.TTR = tuning.TTL
	}

	option := valkey.ClientOption{
		InitAddress:       []string{addr},
		Username:          tlsCfg.Username,
		Password:          tlsCfg.Password,
		SelectDB:          tlsCfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if tlsCfg.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if tlsCfg.CAFile != "" {
			caData, err := os.ReadFile(tlsCfg.CAFile)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("cache: read redis ca file: %w", err)
				}
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisStore{client: client, tuning: tuning}, nil
}

// Get implements the stale-while-revalidate contract on top of a single
// JSON-encoded Entry per key: fresh entries are returned as-is, stale ones
// trigger a background refill, absent ones block on a synchronous fill.
func (c *redisStore) Get(ctx context.Context, namespace, key string, fill FillFunc) (any, bool, error) {
	fullKey := namespaceKey(namespace, key)
	resp := c.client.Do(ctx, c.client.B().Get().Key(fullKey).Build())
	if err := resp.Error(); err != nil {
		if !errors.Is(err, valkey.Nil) {
			return nil, false, fmt.Errorf("cache: redis get: %w", err)
		}
		value, err := fill(ctx)
		if err != nil {
			return nil, false, err
		}
		if err := c.storeEntry(ctx, fullKey, value, time.Now()); err != nil {
			return value, false, err
		}
		return value, false, nil
	}

	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}

	if time.Now().After(entry.RefreshAt) {
		go func() {
			bgCtx := context.Background()
			value, err := fill(bgCtx)
			if err != nil {
				return
			}
			_ = c.storeEntry(bgCtx, fullKey, value, time.Now())
		}()
	}
	return entry.Value, true, nil
}

func (c *redisStore) storeEntry(ctx context.Context, fullKey string, value any, now time.Time) error {
	entry := Entry{
		Value:     value,
		StoredAt:  now,
		RefreshAt: now.Add(c.tuning.TTR),
		ExpiresAt: now.Add(c.tuning.TTL),
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(fullKey).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// MarkToRefresh sets RefreshAt to now for the matching entries so their next
// Get triggers an asynchronous refill (spec §5), without evicting them.
func (c *redisStore) MarkToRefresh(ctx context.Context, namespace string, keys []string) (any, error) {
	fullKeys, err := c.resolveKeys(ctx, namespace, keys)
	if err != nil {
		return nil, err
	}
	affected := 0
	for _, fullKey := range fullKeys {
		resp := c.client.Do(ctx, c.client.B().Get().Key(fullKey).Build())
		if resp.Error() != nil {
			continue
		}
		payload, err := resp.AsBytes()
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			continue
		}
		entry.RefreshAt = time.Now()
		ttl := time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			continue
		}
		updated, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		cmd := c.client.B().Set().Key(fullKey).Value(string(updated)).Px(ttl).Build()
		if err := c.client.Do(ctx, cmd).Error(); err == nil {
			affected++
		}
	}
	return map[string]any{"affected": affected}, nil
}

// Unset evicts the matching entries immediately via UNLINK, falling back to
// DEL (teacher's redis.go DeletePrefix pattern) if UNLINK is unsupported.
func (c *redisStore) Unset(ctx context.Context, namespace string, keys []string) (any, error) {
	fullKeys, err := c.resolveKeys(ctx, namespace, keys)
	if err != nil {
		return nil, err
	}
	if len(fullKeys) == 0 {
		return map[string]any{"affected": 0}, nil
	}

	const delSize = 50
	affected := 0
	for i := 0; i < len(fullKeys); i += delSize {
		end := min(i+delSize, len(fullKeys))
		batch := fullKeys[i:end]
		unlinkCmd := c.client.B().Unlink().Key(batch...).Build()
		if err := c.client.Do(ctx, unlinkCmd).Error(); err != nil {
			delCmd := c.client.B().Del().Key(batch...).Build()
			if err := c.client.Do(ctx, delCmd).Error(); err != nil {
				return nil, fmt.Errorf("cache: redis delete keys: %w", err)
			}
		}
		affected += len(batch)
	}
	return map[string]any{"affected": affected}, nil
}

func (c *redisStore) resolveKeys(ctx context.Context, namespace string, keys []string) ([]string, error) {
	if len(keys) > 0 {
		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = namespaceKey(namespace, k)
		}
		return full, nil
	}
	return c.scanPrefix(ctx, namespace+"\x00")
}

func (c *redisStore) scanPrefix(ctx context.Context, prefix string) ([]string, error) {
	const batchSize = 100
	var matched []string
	cursor := uint64(0)
	pattern := prefix + "*"
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		cmd := c.client.B().Scan().Cursor(cursor).Match(pattern).Count(batchSize).Build()
		resp := c.client.Do(ctx, cmd)
		if err := resp.Error(); err != nil {
			return nil, fmt.Errorf("cache: redis scan: %w", err)
		}
		entry, err := resp.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("cache: redis scan parse: %w", err)
		}
		for _, k := range entry.Elements {
			if strings.HasPrefix(k, prefix) {
				matched = append(matched, k)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return matched, nil
}

// Ping reports whether the Redis/Valkey backend is reachable, for /healthz.
func (c *redisStore) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *redisStore) Close(context.Context) error {
	c.client.Close()
	return nil
}
