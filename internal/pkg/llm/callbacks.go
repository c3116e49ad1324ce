package llm

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"k8s.io/klog/v2"
)

type startKey struct{}

// NewLogHandler 记录 ChatModel 调用的输入规模、耗时与 token 用量
func NewLogHandler(op string) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			if info == nil || info.Component != "ChatModel" {
				return ctx
			}
			if in := model.ConvCallbackInput(input); in != nil {
				klog.V(6).InfoS("[EinoCallback] Model 输入", "op", op, "message_count", len(in.Messages))
				for i, msg := range in.Messages {
					if msg != nil {
						klog.V(8).InfoS("[EinoCallback]   Message Content", "op", op, "index", i, "role", msg.Role, "content", msg.Content)
					}
				}
			}
			return context.WithValue(ctx, startKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			if info == nil || info.Component != "ChatModel" {
				return ctx
			}
			out := model.ConvCallbackOutput(output)
			if out == nil {
				return ctx
			}
			kv := []any{"op", op, "duration_ms", elapsed(ctx).Milliseconds()}
			if out.Message != nil {
				kv = append(kv, "content_length", len(out.Message.Content))
			}
			if out.TokenUsage != nil {
				kv = append(kv,
					"prompt_tokens", out.TokenUsage.PromptTokens,
					"completion_tokens", out.TokenUsage.CompletionTokens,
					"total_tokens", out.TokenUsage.TotalTokens,
				)
			}
			klog.V(6).InfoS("[EinoCallback] Model 输出", kv...)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			klog.ErrorS(err, "[EinoCallback] 节点执行出错", "op", op, "name", name, "duration_ms", elapsed(ctx).Milliseconds())
			return ctx
		}).
		Build()
}

func elapsed(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}
