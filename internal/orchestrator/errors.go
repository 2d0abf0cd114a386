package orchestrator

import (
	"fmt"

	"incredible-cli/internal/schema"
)

// StepBudgetExceededError 循环安全阀：回合预算耗尽。
// 携带截至中止时的转录，便于诊断。
type StepBudgetExceededError struct {
	Steps      int
	Transcript []schema.Message
}

func (e *StepBudgetExceededError) Error() string {
	return fmt.Sprintf("step budget exceeded after %d rounds", e.Steps)
}
