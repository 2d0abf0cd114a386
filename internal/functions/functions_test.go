package functions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"incredible-cli/internal/schema"
)

func weatherParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string", "description": "City name"},
		},
		"required": []string{"city"},
	}
}

func newWeather() Function {
	return New("get_weather", "Get weather of a city", weatherParams(),
		func(ctx context.Context, input map[string]any) (any, error) {
			return "Sunny in " + input["city"].(string), nil
		})
}

//
// ---------------------------------------------------------
// Test: 注册表
// ---------------------------------------------------------
//

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newWeather()))
	require.Error(t, reg.Register(newWeather()), "duplicate name must be rejected")

	fn, ok := reg.Get("get_weather")
	require.True(t, ok)
	require.Equal(t, "get_weather", fn.Name())
	require.Equal(t, 1, reg.Len())
}

func TestRegistrySchemasOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newWeather()))
	require.NoError(t, reg.Register(New("roll_dice", "Roll a die", nil,
		func(ctx context.Context, input map[string]any) (any, error) { return 4, nil })))

	schemas := reg.Schemas()
	require.Len(t, schemas, 2)
	require.Equal(t, "get_weather", schemas[0].Name)
	require.Equal(t, "roll_dice", schemas[1].Name)
	require.NoError(t, schema.ValidateCatalog(schemas))
}

//
// ---------------------------------------------------------
// Test: 分发与错误折叠
// ---------------------------------------------------------
//

func TestInvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newWeather()))

	result := reg.Invoke(context.Background(), "get_weather", map[string]any{"city": "Tokyo"})
	require.Equal(t, "Sunny in Tokyo", result)
}

func TestInvokeUnknownFunction(t *testing.T) {
	reg := NewRegistry()

	result := reg.Invoke(context.Background(), "fly_to_moon", map[string]any{})
	tag, ok := schema.ErrorTag(result)
	require.True(t, ok)
	require.Equal(t, schema.ErrTagUnknownFunction, tag)
}

func TestInvokeInvalidArguments(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newWeather()))

	// 未声明的参数
	result := reg.Invoke(context.Background(), "get_weather",
		map[string]any{"city": "Tokyo", "planet": "Mars"})
	tag, ok := schema.ErrorTag(result)
	require.True(t, ok)
	require.Equal(t, schema.ErrTagInvalidArguments, tag)

	// 缺少 required 参数
	result = reg.Invoke(context.Background(), "get_weather", map[string]any{})
	tag, ok = schema.ErrorTag(result)
	require.True(t, ok)
	require.Equal(t, schema.ErrTagInvalidArguments, tag)
}

func TestInvokeFunctionError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(New("broken", "Always fails", nil,
		func(ctx context.Context, input map[string]any) (any, error) {
			return nil, errors.New("disk on fire")
		})))

	result := reg.Invoke(context.Background(), "broken", nil)
	tag, ok := schema.ErrorTag(result)
	require.True(t, ok)
	require.Equal(t, schema.ErrTagFunctionError, tag)
}

func TestInvokeRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(New("panicky", "Panics", nil,
		func(ctx context.Context, input map[string]any) (any, error) {
			panic("boom")
		})))

	result := reg.Invoke(context.Background(), "panicky", nil)
	tag, ok := schema.ErrorTag(result)
	require.True(t, ok)
	require.Equal(t, schema.ErrTagFunctionError, tag)
}

//
// ---------------------------------------------------------
// Test: 确定性 dispatcher 重放结果一致
// ---------------------------------------------------------
//

func TestInvokeDeterministicReplay(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newWeather()))

	input := map[string]any{"city": "Paris"}
	first := reg.Invoke(context.Background(), "get_weather", input)
	second := reg.Invoke(context.Background(), "get_weather", input)
	require.Equal(t, first, second)
}
