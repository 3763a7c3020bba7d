package statekeeper

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cpopescu/streamgraph/pkg/logging"
)

// redisKeeper backs one namespace-prefixed key under a Redis hash per
// namespace, grounded on pkg/redis.NewUniversalClient's topology-agnostic
// client (so the same code runs against single-node, Sentinel, or Cluster
// Redis deployments).
type redisKeeper struct {
	client goredis.UniversalClient
	logger logging.Logger
}

// NewRedis wraps an existing Redis client (built via pkg/redis) as a Keeper.
func NewRedis(client goredis.UniversalClient, logger logging.Logger) Keeper {
	return &redisKeeper{client: client, logger: logger}
}

func hashKey(namespace string) string {
	return "streamgraph:state:" + namespace
}

type redisTxn struct {
	k         *redisKeeper
	namespace string
	sets      map[string]string
	deletes   []string
}

func (k *redisKeeper) Begin(namespace string) Txn {
	return &redisTxn{k: k, namespace: namespace, sets: map[string]string{}}
}

func (t *redisTxn) SetValue(key, value string) {
	t.sets[key] = value
}

func (t *redisTxn) DeleteValue(key string) {
	t.deletes = append(t.deletes, key)
}

func (t *redisTxn) Commit(ctx context.Context) error {
	if len(t.sets) == 0 && len(t.deletes) == 0 {
		return nil
	}
	hkey := hashKey(t.namespace)
	_, err := t.k.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(t.sets) > 0 {
			fields := make(map[string]interface{}, len(t.sets))
			for k, v := range t.sets {
				fields[k] = v
			}
			pipe.HSet(ctx, hkey, fields)
		}
		for _, k := range t.deletes {
			pipe.HDel(ctx, hkey, k)
		}
		return nil
	})
	if err != nil && t.k.logger != nil {
		t.k.logger.WithError(err).WithField("namespace", t.namespace).Warn("state keeper commit failed")
	}
	return err
}

func (k *redisKeeper) GetKeyValues(ctx context.Context, namespace, prefix string) (map[string]string, error) {
	all, err := k.client.HGetAll(ctx, hashKey(namespace)).Result()
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return all, nil
	}
	out := make(map[string]string)
	for key, val := range all {
		if strings.HasPrefix(key, prefix) {
			out[key] = val
		}
	}
	return out, nil
}

func (k *redisKeeper) Clear(ctx context.Context, namespace string) error {
	return k.client.Del(ctx, hashKey(namespace)).Err()
}
