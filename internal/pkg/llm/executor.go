package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/vividoc/backend/internal/pkg/metrics"
	"k8s.io/klog/v2"
)

// promptChain 提示词构造 -> ChatModel -> 输出解析
type promptChain[I, O any] struct {
	op       string
	runnable compose.Runnable[I, O]
	handler  callbacks.Handler
}

func newPromptChain[I, O any](
	ctx context.Context,
	op string,
	chatModel model.BaseChatModel,
	build func(in I) ([]*schema.Message, error),
	parse func(msg *schema.Message) (O, error),
) (*promptChain[I, O], error) {
	chain := compose.NewChain[I, O]()
	chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, in I) ([]*schema.Message, error) {
		return build(in)
	}))
	chain.AppendChatModel(chatModel)
	chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (O, error) {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			var zero O
			return zero, ErrEmptyResponse
		}
		return parse(msg)
	}))

	runnable, err := chain.Compile(ctx)
	if err != nil {
		klog.Errorf("[llm.%s] Chain 编译失败: %v", op, err)
		return nil, fmt.Errorf("compile %s chain: %w", op, err)
	}
	return &promptChain[I, O]{op: op, runnable: runnable, handler: NewLogHandler(op)}, nil
}

// invoke 执行一次调用并记录耗时指标
func (c *promptChain[I, O]) invoke(ctx context.Context, in I) (O, error) {
	start := time.Now()
	out, err := c.runnable.Invoke(ctx, in, compose.WithCallbacks(c.handler))
	metrics.Get().LLMCall(c.op, time.Since(start), err)
	if err != nil {
		var zero O
		return zero, fmt.Errorf("%s: %w", c.op, err)
	}
	return out, nil
}

func messages(system, user string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}
}

func contentOf(msg *schema.Message) (string, error) {
	return strings.TrimSpace(msg.Content), nil
}
