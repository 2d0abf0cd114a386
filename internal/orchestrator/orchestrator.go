package orchestrator

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"incredible-cli/internal/llm"
	"incredible-cli/internal/logger"
	"incredible-cli/internal/schema"
)

//
// ============================================================
// 接口与选项
// ============================================================
//

// DefaultStepBudget 默认的回合上限
const DefaultStepBudget = 10

// Client 编排器需要的最小客户端能力，*llm.Client 满足该接口
type Client interface {
	NewRequest(system string, messages []schema.Message, functions []schema.FunctionSchema) *schema.CompletionRequest
	Complete(ctx context.Context, body *schema.CompletionRequest) (*llm.Completion, error)
	Stream(ctx context.Context, body *schema.CompletionRequest) (*llm.StreamResponse, error)
}

// Dispatcher 将函数名映射到本地实现。
// Invoke 永不失败：所有错误折叠成带标签的结果值。
type Dispatcher interface {
	Invoke(ctx context.Context, name string, input map[string]any) any
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithSystemPrompt 设置系统提示
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.system = prompt }
}

// WithStepBudget 设置回合上限（防止失控循环）
func WithStepBudget(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.stepBudget = n
		}
	}
}

// WithStreaming 启用流式输出。只对无函数目录的纯对话生效：
// 函数调用协议只作用于完整组装后的消息。
func WithStreaming(enabled bool) Option {
	return func(o *Orchestrator) { o.streaming = enabled }
}

// WithOnText 模型文本输出回调（流式时逐片段触发）
func WithOnText(fn func(text string)) Option {
	return func(o *Orchestrator) { o.onText = fn }
}

// WithOnFunctionCall 函数分发前回调
func WithOnFunctionCall(fn func(name string, input map[string]any)) Option {
	return func(o *Orchestrator) { o.onFunctionCall = fn }
}

// WithOnFunctionResult 函数分发后回调
func WithOnFunctionResult(fn func(name string, result any)) Option {
	return func(o *Orchestrator) { o.onFunctionResult = fn }
}

// WithRunLogger 设置运行日志
func WithRunLogger(log *logger.RunLogger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithSummarizer 启用转录压缩
func WithSummarizer(s *Summarizer) Option {
	return func(o *Orchestrator) { o.summarizer = s }
}

// WithMaxParallel 同一 function_call 内并行分发的上限
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

//
// ============================================================
// Session
// ============================================================
//

// Session 一次会话：独占转录、步数与预算。
// 不跨并发调用方共享。
type Session struct {
	ID         string
	transcript []schema.Message
	steps      int
}

// NewSession 创建会话
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// Transcript 返回转录的副本
func (s *Session) Transcript() []schema.Message {
	out := make([]schema.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Steps 累计消耗的回合数
func (s *Session) Steps() int {
	return s.steps
}

func (s *Session) append(msgs ...schema.Message) {
	s.transcript = append(s.transcript, msgs...)
}

//
// ============================================================
// Orchestrator
// ============================================================
//

// Orchestrator 驱动函数调用协议的多回合循环：
// 提交转录与函数目录，检出函数调用并分发到本地实现，
// 把结果追加回转录重新提交，直到模型给出最终文本回答
// 或回合预算耗尽。
type Orchestrator struct {
	client     Client
	dispatcher Dispatcher
	schemas    []schema.FunctionSchema

	system      string
	stepBudget  int
	streaming   bool
	maxParallel int

	onText           func(string)
	onFunctionCall   func(string, map[string]any)
	onFunctionResult func(string, any)

	log        *logger.RunLogger
	summarizer *Summarizer

	session *Session
}

// New 创建编排器。目录中的函数名必须唯一。
func New(client Client, dispatcher Dispatcher, schemas []schema.FunctionSchema, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("nil client")
	}
	if dispatcher == nil && len(schemas) > 0 {
		return nil, fmt.Errorf("function catalog without dispatcher")
	}
	if err := schema.ValidateCatalog(schemas); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		client:      client,
		dispatcher:  dispatcher,
		schemas:     schemas,
		stepBudget:  DefaultStepBudget,
		maxParallel: defaultMaxParallel,
		session:     NewSession(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Session 当前会话
func (o *Orchestrator) Session() *Session {
	return o.session
}

// Reset 丢弃当前会话，开启新会话
func (o *Orchestrator) Reset() {
	o.session = NewSession()
}

// RunResult 一次运行的结果
type RunResult struct {
	Answer     string
	Steps      int
	Duration   time.Duration
	Transcript []schema.Message
}

//
// ============================================================
// Main Run Loop
// ============================================================
//

// Run 追加一条 user 消息并驱动循环直到终态。
// 返回错误的分类见各错误类型；传输与协议错误不消耗回合。
func (o *Orchestrator) Run(ctx context.Context, userMessage string) (*RunResult, error) {
	start := time.Now()
	s := o.session

	if o.log != nil {
		if err := o.log.StartRun(s.ID); err != nil {
			slog.Warn("Run log unavailable", slog.String("err", err.Error()))
		}
	}

	s.append(schema.NewUserMessage(userMessage))

	step := 0
	for step < o.stepBudget {
		// 取消后不再发起新请求；进行中的本地函数自行收尾
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if o.summarizer != nil {
			compacted, err := o.summarizer.Compact(ctx, s.transcript)
			if err != nil {
				slog.Warn("Transcript compaction failed", slog.String("err", err.Error()))
			} else {
				s.transcript = compacted
			}
		}

		// 带悬空调用的转录绝不提交
		if err := schema.ValidateTranscript(s.transcript); err != nil {
			return nil, fmt.Errorf("transcript invariant violated: %w", err)
		}

		body := o.client.NewRequest(o.system, s.Transcript(), o.schemas)

		if o.log != nil {
			o.log.LogRequest(s.transcript, o.schemas)
		}

		// 纯对话且开启流式：增量消费文本后即为终态
		if o.streaming && len(o.schemas) == 0 {
			stream, err := o.client.Stream(ctx, body)
			if err != nil {
				return nil, err
			}
			text, err := stream.Collect(ctx, o.onText)
			if err != nil {
				return nil, err
			}
			s.append(schema.NewAssistantMessage(text))
			return o.result(text, step, start), nil
		}

		comp, err := o.client.Complete(ctx, body)
		if err != nil {
			return nil, err
		}

		if o.log != nil {
			o.log.LogResponse(comp.Assistant, comp.Call)
		}

		// 无函数调用：assistant 文本即最终回答
		if !comp.HasCall() {
			answer := comp.Text()
			if o.onText != nil {
				o.onText(answer)
			}
			s.append(*comp.Assistant)
			return o.result(answer, step, start), nil
		}

		// 分发本回合的全部调用，结果按调用顺序排列
		call := comp.Call
		results := o.dispatchAll(ctx, call.FunctionCalls)

		if o.log != nil {
			for i, inv := range call.FunctionCalls {
				o.log.LogDispatch(inv.Name, inv.Input, results[i])
			}
		}

		if comp.Assistant != nil {
			s.append(*comp.Assistant)
		}
		s.append(*call)
		s.append(schema.NewFunctionResult(call.FunctionCallID, results))

		step++
		s.steps++
	}

	return nil, &StepBudgetExceededError{
		Steps:      step,
		Transcript: s.Transcript(),
	}
}

func (o *Orchestrator) result(answer string, steps int, start time.Time) *RunResult {
	return &RunResult{
		Answer:     answer,
		Steps:      steps,
		Duration:   time.Since(start),
		Transcript: o.session.Transcript(),
	}
}
