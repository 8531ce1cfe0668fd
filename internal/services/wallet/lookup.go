package wallet

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LookupByUser resolves a user id to its wallet number for callers outside the core.
// Wallet numbers never change, so a cached answer stays valid until the wallet is deleted.
func (s *Service) LookupByUser(ctx context.Context, userID int64) (string, error) {
	key := cacheKey(userID)

	if s.redis != nil {
		number, err := s.redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			return number, nil
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("wallet lookup cache unavailable", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	w, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, w.WalletNumber, s.cacheTTL).Err(); err != nil {
			s.logger.Warn("failed to cache wallet lookup", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return w.WalletNumber, nil
}
