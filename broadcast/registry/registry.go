package registry

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/log"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Second
)

const ErrRegistryUnavailable errors.Code = "registry unavailable"

// NewRegistry returns a read-only client for the sender -> authorized
// receivers mapping. The mapping itself is owned elsewhere; this client only
// reads the Redis sets and caches them briefly, since the set is consulted
// on every receiver subscription.
func NewRegistry(redisClient redis.UniversalClient, logger *log.Logger) broadcast.Registry {
	return &registryImpl{
		redisClient: redisClient,
		cache:       expirable.NewLRU[string, []string](defaultCacheSize, nil, defaultCacheTTL),
		logger:      logger,
	}
}

type registryImpl struct {
	redisClient redis.UniversalClient
	cache       *expirable.LRU[string, []string]
	logger      *log.Logger
}

func (r *registryImpl) followerKey(senderID string) string {
	return constants.FollowerKeyPrefix + senderID
}

func (r *registryImpl) AuthorizedReceivers(ctx context.Context, senderID string) ([]string, error) {
	if receivers, ok := r.cache.Get(senderID); ok {
		return receivers, nil
	}

	receivers, err := r.redisClient.SMembers(ctx, r.followerKey(senderID)).Result()
	if err != nil {
		return nil, errors.Wrapf(ErrRegistryUnavailable, err, "read followers of %s", senderID)
	}

	r.cache.Add(senderID, receivers)
	r.logger.Debug("Loaded authorized receivers",
		log.String("senderId", senderID),
		log.Int("count", len(receivers)))
	return receivers, nil
}
