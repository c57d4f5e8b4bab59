package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// groupHandler marks every record after dispatch; a failed record is logged
// and skipped rather than blocking the partition.
type groupHandler struct {
	router *Router
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	glog.Infof("[Kafka] consumer group setup, member=%s claims=%v", s.MemberID(), s.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	glog.Info("[Kafka] consumer group cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if glog.V(2) {
				glog.Infof("[Kafka] received topic=%s partition=%d offset=%d", msg.Topic, msg.Partition, msg.Offset)
			}
			if err := h.router.Dispatch(session.Context(), msg.Topic, msg.Key, msg.Value); err != nil {
				glog.Warningf("[Kafka] handler error topic=%s offset=%d: %v", msg.Topic, msg.Offset, err)
			}
			session.MarkMessage(msg, "")
		}
	}
}

type Consumer struct {
	cfg    Config
	group  sarama.ConsumerGroup
	router *Router
	done   chan struct{}
}

// NewConsumer joins the consumer group; Run starts consuming.
func NewConsumer(cfg Config, router *Router) (*Consumer, error) {
	cfg.norm()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}
	if cfg.EnsureTopics {
		admin, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
		if err != nil {
			return nil, err
		}
		err = EnsureTopics(admin, cfg.Topics, cfg.Partitions, cfg.ReplicationFactor)
		_ = admin.Close()
		if err != nil {
			return nil, err
		}
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, err
	}
	return &Consumer{cfg: cfg, group: group, router: router, done: make(chan struct{})}, nil
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance,
// so it is called in a loop.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	go func() {
		for err := range c.group.Errors() {
			glog.Errorf("[Kafka] consumer group error: %v", err)
		}
	}()
	h := &groupHandler{router: c.router}
	for ctx.Err() == nil {
		if err := c.group.Consume(ctx, c.cfg.Topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			glog.Errorf("[Kafka] consume error: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// Close leaves the group and waits for Run to return if it was started.
func (c *Consumer) Close(wait bool) error {
	err := c.group.Close()
	if wait {
		<-c.done
	}
	return err
}
