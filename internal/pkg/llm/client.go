package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/vividoc/backend/config"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// NewChatModel 按配置创建 OpenAI 兼容的 ChatModel，配置了限速时在外层包一层令牌桶
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	klog.V(6).Infof("[llm.NewChatModel] 创建 OpenAI ChatModel: model=%s, baseURL=%s", cfg.Model, cfg.APIURL)

	modelConfig := &openai.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}
	if cfg.APIURL != "" {
		modelConfig.BaseURL = cfg.APIURL
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxTokens = &maxTokens
	}

	chatModel, err := openai.NewChatModel(ctx, modelConfig)
	if err != nil {
		klog.Errorf("[llm.NewChatModel] 创建 ChatModel 失败: %v", err)
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	if cfg.RateLimit <= 0 {
		return chatModel, nil
	}
	return NewRateLimitedModel(chatModel, cfg.RateLimit, cfg.Burst), nil
}

// RateLimitedModel 在每次调用前等待令牌
type RateLimitedModel struct {
	inner   model.BaseChatModel
	limiter *rate.Limiter
}

func NewRateLimitedModel(inner model.BaseChatModel, perSecond float64, burst int) *RateLimitedModel {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedModel{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (m *RateLimitedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return m.inner.Generate(ctx, input, opts...)
}

func (m *RateLimitedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return m.inner.Stream(ctx, input, opts...)
}
