//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"enrollgate/internal/platform/config"
	"enrollgate/internal/platform/redis"
	"enrollgate/pkg/testutil/containers"
)

type ClientSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestClientSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *ClientSuite) TestHealth() {
	ctx := context.Background()
	client, err := redis.New(ctx, config.RedisConfig{
		URL:          s.redis.Addr,
		PoolSize:     2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	s.Require().NoError(err)

	s.Run("answers while connected", func() {
		s.NoError(client.Health(ctx))
	})

	s.Run("fails once closed", func() {
		s.Require().NoError(client.Close())
		s.Error(client.Health(ctx))
	})
}
