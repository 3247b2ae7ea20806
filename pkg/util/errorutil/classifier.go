package errorutil

import "go.uber.org/zap"

// Classifier describes failures and hands each one to the log with its context.
type Classifier struct {
	logger *zap.Logger
}

// NewClassifier constructs a classifier logging through logger.
func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger}
}

// Classify returns the descriptor for err and logs it against operation.
func (c *Classifier) Classify(operation string, err error) *Descriptor {
	desc := Describe(err)
	if desc == nil {
		return nil
	}
	c.logger.Warn("operation failed",
		zap.String("operation", operation),
		zap.String("code", desc.Code),
		zap.String("field", desc.Field),
		zap.Bool("retryable", desc.Retryable),
		zap.Error(err),
	)
	return desc
}
