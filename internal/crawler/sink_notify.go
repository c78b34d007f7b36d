package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// NotifyingSink publishes a Notification for every record the wrapped sink
// acknowledges. Duplicates and failures are not announced.
type NotifyingSink struct {
	next      Sink
	publisher Publisher
	hasher    Hasher
	topic     string
	logger    *zap.Logger
}

// NewNotifyingSink wraps next. An empty topic disables publishing.
func NewNotifyingSink(next Sink, publisher Publisher, hasher Hasher, topic string, logger *zap.Logger) (*NotifyingSink, error) {
	if next == nil {
		return nil, errors.New("next sink is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyingSink{next: next, publisher: publisher, hasher: hasher, topic: topic, logger: logger}, nil
}

// Accept stores env and, on acknowledgement, publishes its notification.
// A publish failure is logged; the record stays persisted.
func (s *NotifyingSink) Accept(ctx context.Context, env Envelope) (AcceptStatus, error) {
	status, err := s.next.Accept(ctx, env)
	if err != nil || status != StatusAck || s.topic == "" {
		return status, err
	}
	hash, err := s.hasher.HashValue(env.Record)
	if err != nil {
		s.logger.Warn("hash record for notification", zap.Error(err))
		return status, nil
	}
	note := Notification{
		RunID:     env.RunID,
		Source:    env.Source,
		ItemType:  env.Type(),
		DataHash:  hash,
		SourceURL: env.Record.SourceURL(),
	}
	id, err := s.publisher.Publish(ctx, s.topic, note)
	if err != nil {
		s.logger.Warn("publish record notification",
			zap.String("run_id", env.RunID),
			zap.String("hash", hash),
			zap.Error(err))
		return status, nil
	}
	s.logger.Debug("record published",
		zap.String("run_id", env.RunID),
		zap.String("hash", hash),
		zap.String("message_id", id))
	return status, nil
}
