package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/utils"
)

const answerLogLength = 120

type answerResponse struct {
	Answer string `json:"answer"`
}

// Answer asks POST /api/ai-answer. Calls are paced by the client's limiter.
func (c *Client) Answer(ctx context.Context, q ai.Question) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for ai answer slot: %w", err)
	}

	var resp answerResponse
	if err := c.do(ctx, http.MethodPost, "/api/ai-answer", nil, q.Payload(), &resp); err != nil {
		return "", fmt.Errorf("ai answer: %w", err)
	}

	answer := strings.TrimSpace(resp.Answer)
	c.logger.Debug("got ai answer",
		zap.String("question", utils.TruncateForLog(q.Label, answerLogLength)),
		zap.String("answer", utils.TruncateForLog(answer, answerLogLength)),
	)

	return ai.SnapToOption(answer, q.Options), nil
}
