package functions

import (
	"context"
	"fmt"

	"incredible-cli/internal/schema"
)

//
// ============================================================
// Function 接口
// ============================================================
//

// Function 可供模型调用的本地函数。
// Parameters 返回 JSON Schema 子集（type/properties/required）。
type Function interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Call(ctx context.Context, input map[string]any) (any, error)
}

// funcImpl 用闭包实现 Function 的轻量适配
type funcImpl struct {
	name        string
	description string
	parameters  map[string]any
	call        func(ctx context.Context, input map[string]any) (any, error)
}

func (f *funcImpl) Name() string               { return f.name }
func (f *funcImpl) Description() string        { return f.description }
func (f *funcImpl) Parameters() map[string]any { return f.parameters }
func (f *funcImpl) Call(ctx context.Context, input map[string]any) (any, error) {
	return f.call(ctx, input)
}

// New 从闭包创建 Function
func New(
	name, description string,
	parameters map[string]any,
	call func(ctx context.Context, input map[string]any) (any, error),
) Function {
	return &funcImpl{
		name:        name,
		description: description,
		parameters:  parameters,
		call:        call,
	}
}

//
// ============================================================
// Registry —— dispatcher 实现
// ============================================================
//

// Registry 按名称分发函数调用。实现 orchestrator 的 Dispatcher。
type Registry struct {
	funcs map[string]Function
	order []string // 注册顺序，保证 Schemas 输出稳定
}

// NewRegistry 创建函数注册表
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]Function),
	}
}

// Register 注册函数，重名返回错误
func (r *Registry) Register(fn Function) error {
	name := fn.Name()
	if name == "" {
		return fmt.Errorf("function with empty name")
	}
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("duplicate function: %s", name)
	}
	r.funcs[name] = fn
	r.order = append(r.order, name)
	return nil
}

// Get 按名称获取函数
func (r *Registry) Get(name string) (Function, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names 按注册顺序列出函数名
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len 已注册函数数量
func (r *Registry) Len() int {
	return len(r.funcs)
}

// Schemas 生成随每次请求提交的函数目录
func (r *Registry) Schemas() []schema.FunctionSchema {
	schemas := make([]schema.FunctionSchema, 0, len(r.order))
	for _, name := range r.order {
		fn := r.funcs[name]
		schemas = append(schemas, schema.FunctionSchema{
			Name:        fn.Name(),
			Description: fn.Description(),
			Parameters:  fn.Parameters(),
		})
	}
	return schemas
}

//
// ============================================================
// 调用分发
// ============================================================
//

// Invoke 执行一次函数调用，返回结果值。
// 所有失败（未知函数、参数不合法、函数报错、panic）都折叠成
// 带错误标签的结果值回传给模型，绝不让会话崩掉。
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any) (result any) {
	fn, ok := r.funcs[name]
	if !ok {
		return schema.ErrorValue(schema.ErrTagUnknownFunction,
			fmt.Sprintf("no such function: %s", name))
	}

	if err := validateInput(fn.Parameters(), input); err != nil {
		return schema.ErrorValue(schema.ErrTagInvalidArguments, err.Error())
	}

	defer func() {
		if rv := recover(); rv != nil {
			result = schema.ErrorValue(schema.ErrTagFunctionError,
				fmt.Sprintf("panic in %s: %v", name, rv))
		}
	}()

	v, err := fn.Call(ctx, input)
	if err != nil {
		return schema.ErrorValue(schema.ErrTagFunctionError, err.Error())
	}
	return v
}

// validateInput 在分发前校验 input：键必须是声明过的参数，
// required 列表里的参数必须出现。
func validateInput(parameters, input map[string]any) error {
	if parameters == nil {
		return nil
	}

	properties, _ := parameters["properties"].(map[string]any)
	for key := range input {
		if _, declared := properties[key]; !declared {
			return fmt.Errorf("undeclared parameter: %s", key)
		}
	}

	switch required := parameters["required"].(type) {
	case []string:
		for _, key := range required {
			if _, present := input[key]; !present {
				return fmt.Errorf("missing required parameter: %s", key)
			}
		}
	case []any:
		for _, k := range required {
			key, _ := k.(string)
			if _, present := input[key]; key != "" && !present {
				return fmt.Errorf("missing required parameter: %s", key)
			}
		}
	}

	return nil
}
