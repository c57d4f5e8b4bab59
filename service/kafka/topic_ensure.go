package kafka

import (
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// EnsureTopics 会：
// 1) 不存在就按参数创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能增加分区）。
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, partitions int32, rf int16) error {
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return fmt.Errorf("describe topic %s: %w", t, err)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			err := admin.CreateTopic(t, topicDetail(partitions, rf), false)
			if err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					glog.Infof("[Topic] exists (race): %s", t)
					continue
				}
				return fmt.Errorf("create topic %s: %w", t, err)
			}
			glog.Infof("[Topic] created: %s (partitions=%d, rf=%d)", t, partitions, rf)
			continue
		}

		cur := int32(len(descs[0].Partitions))
		if partitions > cur {
			if err := admin.CreatePartitions(t, partitions, nil, false); err != nil {
				return fmt.Errorf("expand partitions %s from %d to %d: %w", t, cur, partitions, err)
			}
			glog.Infof("[Topic] partitions expanded: %s (%d -> %d)", t, cur, partitions)
		}
	}
	return nil
}

func topicDetail(partitions int32, rf int16) *sarama.TopicDetail {
	minISR := "1"
	if rf >= 3 {
		minISR = "2"
	}
	return &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: rf,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 strPtr("delete"),
			"min.insync.replicas":            strPtr(minISR),
			"unclean.leader.election.enable": strPtr("false"),
		},
	}
}

func strPtr(s string) *string { return &s }
