//go:build integration

package auditlog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"enrollgate/internal/auditlog"
	"enrollgate/internal/backend"
	"enrollgate/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.redpanda = containers.NewRedpandaContainer(s.T())
}

func (s *KafkaSinkSuite) TestPublishThroughMirror() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "enrollgate.audit.test"
	sink, err := auditlog.NewKafkaSink([]string{s.redpanda.Broker}, topic)
	s.Require().NoError(err)
	defer sink.Close()

	s.Require().NoError(sink.Ping(ctx), "broker answers readiness pings")
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	mirror, err := auditlog.NewMirror(sink)
	s.Require().NoError(err)
	mirror.Enqueue(auditlog.Entry{
		ID:             "a-1",
		Code:           "AB12CD",
		CodeType:       backend.CodeTypeEnquiry,
		TargetEntityID: "enq-1",
		Result:         auditlog.ResultSuccess,
		VerifiedAt:     time.Now().UTC(),
	})
	s.Equal(1, mirror.Flush(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().NotEmpty(records)

	var got auditlog.Entry
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal("a-1", got.ID)
	s.Equal("enq-1", string(records[0].Key))
}
