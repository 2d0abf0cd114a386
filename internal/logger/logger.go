package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"incredible-cli/internal/schema"
	"incredible-cli/internal/utils"
)

//
// ---------------------------------------------------------
// Run Logger
// ---------------------------------------------------------
//

// RunLogger 记录一次编排运行的完整过程：
// 每次远端请求、模型响应、函数分发结果。
// 内部使用互斥锁保证并发安全。
type RunLogger struct {
	logDir   string   // 日志目录 (~/.incredible/log)
	logFile  *os.File // 当前运行的日志文件句柄
	logIndex int      // 日志条目计数器
	mu       sync.Mutex
}

// NewRunLogger 创建日志管理器并初始化日志目录
func NewRunLogger() (*RunLogger, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine user home directory: %w", err)
	}

	logDir := filepath.Join(home, ".incredible", "log")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create log directory: %w", err)
	}

	return &RunLogger{logDir: logDir}, nil
}

// NewRunLoggerAt 在指定目录创建日志管理器（测试用）
func NewRunLoggerAt(dir string) (*RunLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create log directory: %w", err)
	}
	return &RunLogger{logDir: dir}, nil
}

//
// ---------------------------------------------------------
// Log File Control
// ---------------------------------------------------------
//

// StartRun 开启一次新的运行日志。
// 以 session id + 时间戳命名日志文件并写入头部。
func (l *RunLogger) StartRun(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}

	timestamp := time.Now().Format("20060102_150405")
	logPath := filepath.Join(l.logDir, fmt.Sprintf("run_%s_%s.log", timestamp, sessionID))

	file, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	l.logFile = file
	l.logIndex = 0

	header := fmt.Sprintf("%s\nOrchestrator Run Log - session %s - %s\n%s\n",
		strings.Repeat("=", 80),
		sessionID,
		time.Now().Format("2006-01-02 15:04:05"),
		strings.Repeat("=", 80),
	)

	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed writing header: %w", err)
	}
	return nil
}

// writeLog 写入一条带类型、编号、时间戳的日志记录
func (l *RunLogger) writeLog(logType, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return fmt.Errorf("log file not initialized (StartRun not called?)")
	}

	l.logIndex++

	entry := fmt.Sprintf(
		"\n%s\n[%d] %s\nTimestamp: %s\n%s\n%s\n",
		strings.Repeat("-", 80),
		l.logIndex,
		logType,
		time.Now().Format("2006-01-02 15:04:05.000"),
		strings.Repeat("-", 80),
		content,
	)

	if _, err := l.logFile.WriteString(entry); err != nil {
		return fmt.Errorf("write log failed: %w", err)
	}
	return l.logFile.Sync()
}

//
// ---------------------------------------------------------
// Log Entries
// ---------------------------------------------------------
//

// LogRequest 记录提交给远端的转录与函数目录（目录只记名称）
func (l *RunLogger) LogRequest(messages []schema.Message, catalog []schema.FunctionSchema) error {
	names := make([]string, len(catalog))
	for i, s := range catalog {
		names[i] = s.Name
	}

	req := map[string]any{
		"messages":  messages,
		"functions": names,
	}
	return l.writeLog("REQUEST", "Completion Request:\n\n"+utils.MarshalIndentToString(req))
}

// LogResponse 记录模型返回的 assistant 内容与函数调用
func (l *RunLogger) LogResponse(assistant, call *schema.Message) error {
	resp := map[string]any{}
	if assistant != nil {
		resp["content"] = assistant.Content
	}
	if call != nil {
		resp["function_call_id"] = call.FunctionCallID
		resp["function_calls"] = call.FunctionCalls
	}
	return l.writeLog("RESPONSE", "Completion Response:\n\n"+utils.MarshalIndentToString(resp))
}

// LogDispatch 记录一次函数分发的输入与结果值
func (l *RunLogger) LogDispatch(name string, input map[string]any, result any) error {
	data := map[string]any{
		"function": name,
		"input":    input,
		"result":   result,
	}
	if tag, isErr := schema.ErrorTag(result); isErr {
		data["error_type"] = tag
	}
	return l.writeLog("DISPATCH", "Function Dispatch:\n\n"+utils.MarshalIndentToString(data))
}

//
// ---------------------------------------------------------
// File Control
// ---------------------------------------------------------
//

// LogFilePath 当前日志文件路径
func (l *RunLogger) LogFilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return ""
	}
	return l.logFile.Name()
}

// Close 关闭日志文件
func (l *RunLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		err := l.logFile.Close()
		l.logFile = nil
		return err
	}
	return nil
}
