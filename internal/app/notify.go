package service

import (
	"context"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

// LogNotifier hands domain events to the log. It stands in for the
// notification collaborator.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(l logger.Logger) *LogNotifier {
	return &LogNotifier{logger: l.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, e model.DomainEvent) error {
	n.logger.Info(ctx, "domain event",
		logger.String("eventId", e.ID),
		logger.String("type", string(e.Type)),
		logger.String("event", e.EventID),
		logger.Int("round", e.Round),
		logger.String("judge", e.JudgeID),
		logger.String("submission", e.SubmissionID),
		logger.Any("payload", e.Payload))
	return nil
}
