package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Global topics. Entity topics are built with RunTopic and WorkflowTopic.
const (
	TopicRuns     = "runs"
	TopicEvents   = "events"
	TopicFirehose = "firehose"
)

// RunTopic carries every event of one run.
func RunTopic(runID string) string { return "run:" + runID }

// WorkflowTopic carries run events of every run of one workflow.
func WorkflowTopic(workflowID string) string { return "workflow:" + workflowID }

// ValidateTopic checks a topic name supplied by a client.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicRuns, TopicEvents, TopicFirehose:
		return nil
	}
	kind, entity, ok := strings.Cut(topic, ":")
	if !ok || entity == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "run", "workflow":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic kind %q", kind)
	}
}

// topicRegistry maps topics to their subscribers. Safe for concurrent use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

func (tr *topicRegistry) unsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic, subs := range tr.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast delivers evt once to every subscriber on any of topics and
// returns how many received it.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			seen[subID] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
