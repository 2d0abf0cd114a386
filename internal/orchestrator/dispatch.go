package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"incredible-cli/internal/schema"
)

// defaultMaxParallel 同一 function_call 内并行分发的默认上限
const defaultMaxParallel = 4

// dispatchAll 分发一个 function_call 内的全部调用。
// 调用之间无顺序依赖，可以并行执行，但结果必须按原始
// 调用顺序重新组装后再构造 function_call_result。
func (o *Orchestrator) dispatchAll(ctx context.Context, invocations []schema.FunctionInvocation) []any {
	for _, inv := range invocations {
		if o.onFunctionCall != nil {
			o.onFunctionCall(inv.Name, inv.Input)
		}
	}

	results := make([]any, len(invocations))

	if len(invocations) == 1 {
		results[0] = o.invokeOne(ctx, invocations[0])
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, o.maxParallel)

		for i, inv := range invocations {
			wg.Add(1)
			go func(idx int, inv schema.FunctionInvocation) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				results[idx] = o.invokeOne(ctx, inv)
			}(i, inv)
		}

		wg.Wait()
	}

	for i, inv := range invocations {
		if o.onFunctionResult != nil {
			o.onFunctionResult(inv.Name, results[i])
		}
	}

	return results
}

// invokeOne 执行单个调用。dispatcher 由调用方提供，
// panic 也要折叠成错误结果值，不能带崩整个循环。
func (o *Orchestrator) invokeOne(ctx context.Context, inv schema.FunctionInvocation) (result any) {
	defer func() {
		if rv := recover(); rv != nil {
			result = schema.ErrorValue(schema.ErrTagFunctionError,
				fmt.Sprintf("panic in %s: %v", inv.Name, rv))
		}
	}()

	return o.dispatcher.Invoke(ctx, inv.Name, inv.Input)
}
