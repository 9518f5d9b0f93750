package gemini

import (
	"context"
	_ "embed"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

//go:embed prompt.md
var systemPrompt string

const defaultMaxLogLength = 200

// Oracle answers form questions with Gemini.
type Oracle struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func NewOracle(generator contentGenerator, maxLogLength int, log *zap.Logger) *Oracle {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Oracle{
		generator: generator,
		logger:    logger.WithFields(log, logger.AIFields("gemini", generator.Model())...),
		maxLogLen: maxLogLength,
	}
}

func (o *Oracle) Answer(ctx context.Context, q ai.Question) (string, error) {
	message, err := q.PayloadJSON()
	if err != nil {
		return "", err
	}

	o.logger.Debug("gemini answer request",
		zap.String("question", utils.TruncateForLog(q.Label, o.maxLogLen)),
		zap.Int("options", len(q.Options)),
		zap.Int("message_length", utf8.RuneCountInString(message)),
	)

	raw, err := o.generator.GenerateContent(ctx, systemPrompt, message)
	if err != nil {
		return "", fmt.Errorf("gemini answer: %w", err)
	}

	o.logger.Debug("gemini answer response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, o.maxLogLen)),
	)

	return ai.SnapToOption(ai.ParseAnswer(raw), q.Options), nil
}
