// cmd/incredible/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/joho/godotenv"

	"incredible-cli/internal/config"
	"incredible-cli/internal/functions"
	"incredible-cli/internal/integrations"
	"incredible-cli/internal/llm"
	"incredible-cli/internal/logger"
	"incredible-cli/internal/orchestrator"
	"incredible-cli/internal/schema"
	"incredible-cli/internal/tokenizer"
	"incredible-cli/internal/utils"
)

//
// ANSI Colors
//

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"

	ColorBrightBlack  = "\033[90m"
	ColorBrightGreen  = "\033[92m"
	ColorBrightYellow = "\033[93m"
	ColorBrightBlue   = "\033[94m"
	ColorBrightCyan   = "\033[96m"
)

//
// CLI 参数解析
//

type CLIArgs struct {
	ConfigPath string
	Model      string
	Stream     bool
}

func parseArgs() *CLIArgs {
	var args CLIArgs

	flag.StringVar(&args.ConfigPath, "config", "configs/config.yaml", "Config file path")
	flag.StringVar(&args.ConfigPath, "c", args.ConfigPath, "Config file path (shorthand)")
	flag.StringVar(&args.Model, "model", "", "Override model name")
	flag.BoolVar(&args.Stream, "stream", false, "Stream plain-chat responses")

	flag.Parse()

	return &args
}

//
// Banner & 帮助 & Session Info & Stats
//

func printBanner() {
	const boxWidth = 58
	text := fmt.Sprintf("%s⚡ Incredible - Function Calling Session%s", ColorBold, ColorReset)
	width := utils.DisplayWidth(text)

	totalPadding := boxWidth - width
	if totalPadding < 0 {
		totalPadding = 0
	}
	left := totalPadding / 2
	right := totalPadding - left

	fmt.Println()
	fmt.Printf("%s%s╔%s╗%s\n", ColorBold, ColorBrightCyan, strings.Repeat("═", boxWidth), ColorReset)
	fmt.Printf("%s%s║%s%s%s%s║%s\n",
		ColorBold, ColorBrightCyan,
		strings.Repeat(" ", left),
		text,
		strings.Repeat(" ", right),
		ColorBrightCyan,
		ColorReset,
	)
	fmt.Printf("%s%s╚%s╝%s\n", ColorBold, ColorBrightCyan, strings.Repeat("═", boxWidth), ColorReset)
	fmt.Println()
}

func printHelp() {
	fmt.Printf(`
%s%sAvailable Commands:%s
  %s/help%s       - Show this help message
  %s/clear%s      - Clear session transcript
  %s/history%s    - Show current transcript message count
  %s/functions%s  - List registered functions
  %s/stats%s      - Show session statistics
  %s/exit%s       - Exit program (also: exit, quit, q)

%s%sNotes:%s
  - 直接输入问题回车即可，模型会按需调用本地函数
  - 使用 Tab 可以补全 /help /exit 等命令
`,
		ColorBold, ColorBrightYellow, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,

		ColorBold, ColorBrightYellow, ColorReset,
	)
}

func printSessionInfo(model string, functionCount, stepBudget int) {
	const boxWidth = 58

	printInfoLine := func(text string) {
		textWidth := utils.DisplayWidth(text)
		padding := boxWidth - 1 - textWidth // -1 for leading space
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s│%s %s%s%s│%s\n",
			ColorDim, ColorReset,
			text,
			strings.Repeat(" ", padding),
			ColorDim, ColorReset)
	}

	fmt.Printf("%s┌%s┐%s\n", ColorDim, strings.Repeat("─", boxWidth), ColorReset)

	header := fmt.Sprintf("%sSession Info%s", ColorBrightCyan, ColorReset)
	headerWidth := utils.DisplayWidth(header)
	totalPad := boxWidth - 1 - headerWidth
	if totalPad < 0 {
		totalPad = 0
	}
	left := totalPad / 2
	right := totalPad - left

	fmt.Printf("%s│%s %s%s%s%s│%s\n",
		ColorDim, ColorReset,
		strings.Repeat(" ", left),
		header,
		strings.Repeat(" ", right),
		ColorDim, ColorReset)

	fmt.Printf("%s├%s┤%s\n", ColorDim, strings.Repeat("─", boxWidth), ColorReset)

	printInfoLine(fmt.Sprintf("Model: %s", model))
	printInfoLine(fmt.Sprintf("Available Functions: %d", functionCount))
	printInfoLine(fmt.Sprintf("Step Budget: %d rounds", stepBudget))

	fmt.Printf("%s└%s┘%s\n", ColorDim, strings.Repeat("─", boxWidth), ColorReset)
	fmt.Println()
	fmt.Printf("%sType %s/help%s for help, %s/exit%s to quit%s\n",
		ColorDim, ColorBrightGreen, ColorDim, ColorBrightGreen, ColorDim, ColorReset)
	fmt.Println()
}

func printStats(orch *orchestrator.Orchestrator, start time.Time, functionCount int) {
	dur := time.Since(start)
	totalSec := int(dur.Seconds())
	hours := totalSec / 3600
	minutes := (totalSec % 3600) / 60
	seconds := totalSec % 60

	transcript := orch.Session().Transcript()
	var userCount, assistantCount, callCount int
	for _, m := range transcript {
		switch m.Kind() {
		case schema.KindUser:
			userCount++
		case schema.KindAssistant:
			assistantCount++
		case schema.KindFunctionCall:
			callCount += len(m.FunctionCalls)
		}
	}

	fmt.Printf("\n%s%sSession Statistics:%s\n", ColorBold, ColorBrightCyan, ColorReset)
	fmt.Printf("%s%s%s\n", ColorDim, strings.Repeat("─", 40), ColorReset)
	fmt.Printf("  Session Duration: %02d:%02d:%02d\n", hours, minutes, seconds)
	fmt.Printf("  Total Messages: %d\n", len(transcript))
	fmt.Printf("    - User Messages: %s%d%s\n", ColorBrightGreen, userCount, ColorReset)
	fmt.Printf("    - Assistant Replies: %s%d%s\n", ColorBrightBlue, assistantCount, ColorReset)
	fmt.Printf("    - Function Calls: %s%d%s\n", ColorBrightYellow, callCount, ColorReset)
	fmt.Printf("  Consumed Steps: %d\n", orch.Session().Steps())
	fmt.Printf("  Estimated Tokens: %d\n", tokenizer.EstimateTokens(transcript))
	fmt.Printf("  Available Functions: %d\n", functionCount)
	fmt.Printf("%s%s%s\n\n", ColorDim, strings.Repeat("─", 40), ColorReset)
}

//
// 内置演示函数
//

func registerBuiltins(reg *functions.Registry) error {
	calculator := functions.New(
		"calculator", "Perform a basic arithmetic operation on two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"description": "One of: add, subtract, multiply, divide, power",
				},
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"operation", "a", "b"},
		},
		func(ctx context.Context, input map[string]any) (any, error) {
			a, okA := input["a"].(float64)
			b, okB := input["b"].(float64)
			if !okA || !okB {
				return nil, fmt.Errorf("a and b must be numbers")
			}

			op, _ := input["operation"].(string)
			switch op {
			case "add":
				return a + b, nil
			case "subtract":
				return a - b, nil
			case "multiply":
				return a * b, nil
			case "divide":
				if b == 0 {
					return nil, fmt.Errorf("division by zero")
				}
				return a / b, nil
			case "power":
				return math.Pow(a, b), nil
			default:
				return nil, fmt.Errorf("unknown operation: %s", op)
			}
		},
	)

	currentTime := functions.New(
		"get_current_time", "Get the current date and time",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name, e.g. Asia/Shanghai (default: local)",
				},
			},
		},
		func(ctx context.Context, input map[string]any) (any, error) {
			loc := time.Local
			if tz, ok := input["timezone"].(string); ok && tz != "" {
				var err error
				loc, err = time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone: %s", tz)
				}
			}
			return time.Now().In(loc).Format("2006-01-02 15:04:05 MST"), nil
		},
	)

	for _, fn := range []functions.Function{calculator, currentTime} {
		if err := reg.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

//
// runSession：初始化 + go-prompt 交互 loop
//

func runSession(args *CLIArgs) error {
	sessionStart := time.Now()

	// 1. 加载配置（.env → yaml → 环境变量）
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(args.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("%s❌ Failed to load config: %v%s\n", ColorRed, err, ColorReset)
			return err
		}
		cfg = config.FromEnv()
	}
	if args.Model != "" {
		cfg.API.Model = args.Model
	}
	if args.Stream {
		cfg.Orchestrator.Streaming = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("%s❌ %v%s\n", ColorRed, err, ColorReset)
		return err
	}

	// 2. LLM client（可选重试）
	var clientOpts []llm.ClientOption
	if rc := cfg.API.RetryConfig(); rc != nil {
		clientOpts = append(clientOpts,
			llm.WithRetryConfig(rc),
			llm.WithRetryCallback(func(err error, attempt int) {
				fmt.Printf("\n%s⚠️  Request failed (attempt %d): %s%s\n",
					ColorBrightYellow, attempt, err.Error(), ColorReset)
			}),
		)
		fmt.Printf("%s✅ Retry enabled (max %d retries)%s\n",
			ColorGreen, cfg.API.Retry.MaxRetries, ColorReset)
	}
	if cfg.API.Timeout > 0 {
		clientOpts = append(clientOpts,
			llm.WithTimeout(time.Duration(cfg.API.Timeout*float64(time.Second))))
	}

	client := llm.NewClient(cfg.API.APIKey, cfg.API.APIBase, cfg.API.Model, clientOpts...)

	// 3. 函数注册
	reg := functions.NewRegistry()
	if err := registerBuiltins(reg); err != nil {
		return err
	}
	fmt.Printf("%s✅ Loaded built-in functions%s\n", ColorGreen, ColorReset)

	if cfg.Integrations.Enabled && cfg.Integrations.UserID != "" {
		ic := integrations.NewClient(cfg.API.APIKey, cfg.API.APIBase, cfg.Integrations.UserID)
		for _, fn := range []functions.Function{
			integrations.GmailSendEmail(ic),
			integrations.PerplexitySearch(ic),
		} {
			if err := reg.Register(fn); err != nil {
				return err
			}
		}
		fmt.Printf("%s✅ Loaded hosted integrations (user: %s)%s\n",
			ColorGreen, cfg.Integrations.UserID, ColorReset)
	}

	// 4. 运行日志
	runLog, err := logger.NewRunLogger()
	if err != nil {
		fmt.Printf("%s⚠️  Run log unavailable: %v%s\n", ColorBrightYellow, err, ColorReset)
		runLog = nil
	}
	if runLog != nil {
		defer runLog.Close()
	}

	// 5. 编排器
	orchOpts := []orchestrator.Option{
		orchestrator.WithStepBudget(cfg.Orchestrator.StepBudget),
		orchestrator.WithMaxParallel(cfg.Orchestrator.MaxParallel),
		orchestrator.WithStreaming(cfg.Orchestrator.Streaming),
		orchestrator.WithOnText(func(text string) {
			fmt.Printf("%s", text)
		}),
		orchestrator.WithOnFunctionCall(func(name string, input map[string]any) {
			fmt.Printf("\n%s⚙ %s%s %s%s%s\n",
				ColorBrightYellow, name, ColorReset,
				ColorDim, utils.TruncateToWidth(utils.MarshalToString(input), 70), ColorReset)
		}),
		orchestrator.WithOnFunctionResult(func(name string, result any) {
			fmt.Printf("%s← %s%s\n",
				ColorDim, utils.TruncateToWidth(utils.MarshalToString(result), 72), ColorReset)
		}),
	}
	if cfg.Orchestrator.SystemPrompt != "" {
		orchOpts = append(orchOpts,
			orchestrator.WithSystemPrompt(cfg.Orchestrator.SystemPrompt))
	}
	if runLog != nil {
		orchOpts = append(orchOpts, orchestrator.WithRunLogger(runLog))
	}
	if cfg.Orchestrator.Summarize {
		orchOpts = append(orchOpts, orchestrator.WithSummarizer(
			orchestrator.NewSummarizer(client, cfg.Orchestrator.TokenLimit)))
	}

	orch, err := orchestrator.New(client, reg, reg.Schemas(), orchOpts...)
	if err != nil {
		return err
	}

	// 6. 打印欢迎信息
	printBanner()
	printSessionInfo(cfg.API.Model, reg.Len(), cfg.Orchestrator.StepBudget)

	// 7. go-prompt：补全器
	completer := func(d prompt.Document) []prompt.Suggest {
		text := strings.TrimSpace(d.TextBeforeCursor())
		if len(text) == 0 || strings.HasPrefix(text, "/") {
			suggestions := []prompt.Suggest{
				{Text: "/help", Description: "Show help message"},
				{Text: "/clear", Description: "Clear session transcript"},
				{Text: "/history", Description: "Show transcript message count"},
				{Text: "/functions", Description: "List registered functions"},
				{Text: "/stats", Description: "Show session statistics"},
				{Text: "/exit", Description: "Exit program"},
			}
			return prompt.FilterHasPrefix(suggestions, text, true)
		}
		return []prompt.Suggest{}
	}

	// 8. go-prompt：执行器
	executor := func(in string) {
		input := strings.TrimSpace(in)
		if input == "" {
			return
		}

		if strings.HasPrefix(input, "/") {
			switch strings.ToLower(input) {
			case "/exit", "/quit", "/q":
				fmt.Printf("\n%s👋 Goodbye!%s\n\n", ColorBrightYellow, ColorReset)
				printStats(orch, sessionStart, reg.Len())
				os.Exit(0)
			case "/help":
				printHelp()
				return
			case "/clear":
				oldCount := len(orch.Session().Transcript())
				orch.Reset()
				fmt.Printf("%s✅ Cleared %d messages, starting new session%s\n\n",
					ColorGreen, oldCount, ColorReset)
				return
			case "/history":
				fmt.Printf("\n%sCurrent transcript message count: %d%s\n\n",
					ColorBrightCyan, len(orch.Session().Transcript()), ColorReset)
				return
			case "/functions":
				fmt.Printf("\n%s%sRegistered Functions:%s\n", ColorBold, ColorBrightYellow, ColorReset)
				for _, name := range reg.Names() {
					fn, _ := reg.Get(name)
					fmt.Printf("  %s%s%s - %s\n",
						ColorBrightGreen, name, ColorReset, fn.Description())
				}
				fmt.Println()
				return
			case "/stats":
				printStats(orch, sessionStart, reg.Len())
				return
			default:
				fmt.Printf("%s❌ Unknown command: %s%s\n", ColorRed, input, ColorReset)
				fmt.Printf("%sType /help to see available commands%s\n\n", ColorDim, ColorReset)
				return
			}
		}

		lower := strings.ToLower(input)
		if lower == "exit" || lower == "quit" || lower == "q" {
			fmt.Printf("\n%s👋 Goodbye!%s\n\n", ColorBrightYellow, ColorReset)
			printStats(orch, sessionStart, reg.Len())
			os.Exit(0)
		}

		fmt.Printf("\n%sAssistant%s %s›%s\n\n", ColorBrightBlue, ColorReset, ColorDim, ColorReset)

		// 回答文本经 OnText 回调打印
		_, err := orch.Run(context.Background(), input)
		if err != nil {
			var budgetErr *orchestrator.StepBudgetExceededError
			if errors.As(err, &budgetErr) {
				fmt.Printf("\n%s⚠️  Step budget exceeded after %d rounds%s\n",
					ColorBrightYellow, budgetErr.Steps, ColorReset)
			} else {
				fmt.Printf("\n%s❌ Error: %v%s\n", ColorRed, err, ColorReset)
			}
		}

		fmt.Printf("\n%s%s%s\n\n", ColorDim, strings.Repeat("─", 60), ColorReset)
	}

	// 9. 启动 go-prompt
	p := prompt.New(
		executor,
		completer,
		prompt.OptionPrefix("You › "),
		prompt.OptionTitle("incredible-cli"),
		prompt.OptionInputTextColor(prompt.Yellow),
	)
	p.Run()

	return nil
}

//
// main：CLI 入口
//

func main() {
	args := parseArgs()

	if err := runSession(args); err != nil {
		os.Exit(1)
	}
}
