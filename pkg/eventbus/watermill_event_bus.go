package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/sentinel-flow/sentinel/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// topicFor routes each event class to its topic. Business events and the
// synthetic missed-expectation events share the evaluation topic so they are
// totally ordered per partition key.
func topicFor(eventType events.EventType) string {
	switch eventType {
	case events.AlertTriggeredEvent, events.AlertStateChangedEvent:
		return events.AlertTopic
	case events.EventRejectedEvent:
		return events.DLQTopic
	case events.TransitionRecordedEvent:
		return events.ViewTopic
	default:
		return events.Topic
	}
}

func (eb *WatermillEventBus) Publish(_ context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topicFor(event.GetType()), msg)
}

// Subscribe consumes one topic and dispatches decoded events to the handlers
// registered via Handle. Unhandled event types are acked and skipped.
func (eb *WatermillEventBus) Subscribe(ctx context.Context, topic string) error {
	messages, err := eb.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			event := emptyEvent(eventType)
			if event == nil {
				msg.Nack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func emptyEvent(eventType events.EventType) any {
	switch eventType {
	case events.EventIngestedEvent:
		return &events.EventIngested{}
	case events.EventRejectedEvent:
		return &events.EventRejected{}
	case events.TransitionRecordedEvent:
		return &events.TransitionRecorded{}
	case events.ExpectationMissedEvent:
		return &events.ExpectationMissed{}
	case events.AlertTriggeredEvent:
		return &events.AlertTriggered{}
	case events.AlertStateChangedEvent:
		return &events.AlertStateChanged{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}
