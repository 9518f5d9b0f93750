// Package openai answers form questions with the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/utils"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultMaxLogLength = 200
)

const systemPrompt = `You fill in job application forms on behalf of a candidate.
The user message is a JSON object with "question", "options" and "userData".
Answer from userData. When options is not empty, copy one option verbatim.
Reply with a JSON object {"answer": "<value>"} and nothing else.`

type completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type chatCompleter struct {
	client openai.Client
	model  string
}

func (c *chatCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: openai.ChatModel(c.model),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Oracle implements ai.Oracle on top of chat completions.
type Oracle struct {
	completer completer
	logger    *zap.Logger
	maxLogLen int
}

// New returns an Oracle authenticated with apiKey.
func New(apiKey, model string, maxLogLength int, log *zap.Logger) (*Oracle, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	c := &chatCompleter{client: openai.NewClient(option.WithAPIKey(apiKey)), model: model}
	return newOracle(c, model, maxLogLength, log), nil
}

func newOracle(c completer, model string, maxLogLength int, log *zap.Logger) *Oracle {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Oracle{
		completer: c,
		logger:    logger.WithFields(log, logger.AIFields("openai", model)...),
		maxLogLen: maxLogLength,
	}
}

func (o *Oracle) Answer(ctx context.Context, q ai.Question) (string, error) {
	message, err := q.PayloadJSON()
	if err != nil {
		return "", err
	}

	o.logger.Debug("openai answer request",
		zap.String("question", utils.TruncateForLog(q.Label, o.maxLogLen)),
		zap.Int("options", len(q.Options)),
	)

	raw, err := o.completer.Complete(ctx, systemPrompt, message)
	if err != nil {
		return "", fmt.Errorf("openai answer: %w", err)
	}

	o.logger.Debug("openai answer response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, o.maxLogLen)),
	)

	return ai.SnapToOption(ai.ParseAnswer(raw), q.Options), nil
}
