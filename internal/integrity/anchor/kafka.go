package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"civicwatch/internal/integrity/models"
	"civicwatch/pkg/requestcontext"
)

// anchorMessage is the record value written to the anchor topic.
type anchorMessage struct {
	Hash        string    `json:"hash"`
	Algorithm   string    `json:"algorithm"`
	Schema      string    `json:"schema"`
	PublishedAt time.Time `json:"publishedAt"`
}

// KafkaPublisher anchors digests on a compacted, never-expiring Kafka topic.
// Records are keyed by hash, so even a duplicate produce collapses to one
// logical entry under compaction.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(client *kgo.Client, topic string) (*KafkaPublisher, error) {
	if client == nil {
		return nil, errors.New("anchor: kafka client is required")
	}
	if topic == "" {
		return nil, errors.New("anchor: kafka topic is required")
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// Publish produces the digest synchronously and returns
// kafka://<topic>/<partition>/<offset>.
func (p *KafkaPublisher) Publish(ctx context.Context, d models.Digest) (string, error) {
	value, err := json.Marshal(anchorMessage{
		Hash:        d.Hash,
		Algorithm:   "sha256",
		Schema:      models.ReportSchema,
		PublishedAt: requestcontext.Now(ctx).UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode anchor record: %w", err)
	}

	rec, err := p.client.ProduceSync(ctx, &kgo.Record{
		Topic: p.topic,
		Key:   []byte(d.Hash),
		Value: value,
	}).First()
	if err != nil {
		return "", fmt.Errorf("produce anchor record: %w", err)
	}
	return fmt.Sprintf("kafka://%s/%d/%d", rec.Topic, rec.Partition, rec.Offset), nil
}

// NewKafkaClient builds an idempotent producer client for brokers.
func NewKafkaClient(brokers []string, opts ...kgo.Opt) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("anchor: no kafka brokers configured")
	}
	all := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	}, opts...)
	client, err := kgo.NewClient(all...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the anchor topic as compacted with infinite retention.
// An existing topic is left as is.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	compact, forever := "compact", "-1"
	resp, err := adm.CreateTopic(ctx, partitions, replication, map[string]*string{
		"cleanup.policy": &compact,
		"retention.ms":   &forever,
	}, topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create anchor topic %q: %w", topic, err)
	}
	return nil
}
