package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dscybers/phishshield/internal/entity"
)

// DefaultTopic carries malicious verdicts
const DefaultTopic = "phishshield.verdicts"

// VerdictEvent is the message published for a malicious verdict
type VerdictEvent struct {
	URL         string             `json:"url"`
	ThreatLevel entity.ThreatLevel `json:"threat_level"`
	Confidence  float64            `json:"confidence"`
	FinalScore  float64            `json:"final_score"`
	Layers      []string           `json:"layers"`
	Categories  []string           `json:"categories,omitempty"`
	DetectedAt  time.Time          `json:"detected_at"`
}

// NewVerdictEvent flattens a verdict into its event form
func NewVerdictEvent(v *entity.Verdict) VerdictEvent {
	ev := VerdictEvent{
		URL:         v.URL,
		ThreatLevel: v.ThreatLevel,
		Confidence:  v.Confidence,
		FinalScore:  v.Details.FinalScore,
		Layers:      v.AnalysisLayers,
		DetectedAt:  v.Timestamp,
	}
	if ti := v.Details.ThreatIntelligence; ti != nil {
		ev.Categories = ti.Categories
	}
	return ev
}

// KafkaPublisher writes verdict events to a Kafka topic
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// PublishVerdict sends one verdict keyed by URL so repeat detections of the
// same URL land on the same partition
func (p *KafkaPublisher) PublishVerdict(ctx context.Context, v *entity.Verdict) error {
	data, err := json.Marshal(NewVerdictEvent(v))
	if err != nil {
		return fmt.Errorf("marshal verdict event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(v.URL),
		Value: data,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("publish verdict: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
