package domain

import (
	"context"
	"errors"
	"fmt"
)

// 错误定义
var (
	ErrInvalidSpec           = errors.New("invalid document spec")
	ErrExhaustedRetries      = errors.New("exhausted retries")
	ErrRevisionBoundExceeded = errors.New("revision bound exceeded")
	ErrEntityNotFound        = errors.New("entity not found")
	ErrEmptyOutput           = errors.New("collaborator returned empty output")
)

// GenerationError 生成或修复调用失败（包括超时）
type GenerationError struct {
	Op     string // text, artifact, repair
	UnitID string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: op=%s unit=%s: %v", e.Op, e.UnitID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Timeout 判断失败是否由调用超时导致
func (e *GenerationError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ValidationError 结构校验未通过，只作为修复的依据，不会作为流水线错误向上抛出
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ExhaustedError 单元修复次数耗尽
type ExhaustedError struct {
	UnitID     string
	Attempts   int
	Diagnostic string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("unit %s gave up after %d attempts: %s", e.UnitID, e.Attempts, e.Diagnostic)
}

func (e *ExhaustedError) Unwrap() error { return ErrExhaustedRetries }

// EvaluationError 质量评估的协作方调用失败
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// PipelineError 流水线终止错误，携带失败阶段
type PipelineError struct {
	Phase Phase
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
