package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
	"github.com/fansqz/go-step-tracer/debugger/factory"
	"github.com/fansqz/go-step-tracer/utils/gosync"
	"github.com/sirupsen/logrus"
)

// 定义版本号
const Version = "1.0.1"

const (
	ResultBegin = "RESULT_BEGIN"
	ResultEnd   = "RESULT_END"
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "Show the version number")
	mainFile := flag.String("file", "", "Main file of the program to trace")
	files := flag.String("files", "", "Other source files to trace, separated by commas")
	toolsRoot := flag.String("tools", "", "Directory of the debug adapters, defaults to the working directory")
	host := flag.String("host", constants.DefaultAdapterHost, "Debug adapter host")
	port := flag.Int("port", constants.DefaultAdapterPort, "Debug adapter port")
	logLevel := flag.String("log-level", os.Getenv("LOG_LEVEL"), "Log level: off, on, debug or verbose")
	dapTrace := flag.Bool("dap-trace", false, "Log every DAP message")
	idleTimeout := flag.Duration("idle-timeout", 0, "Stop tracing when no debug event arrives in time, 0 disables it")
	logPath := flag.String("log-file", "", "Write logs to this file instead of stderr")
	flag.Parse()

	// 检查是否需要显示版本信息
	if *showVersion {
		fmt.Printf("Version: %s\n", Version)
		return 0
	}

	SetupLogger(constants.LogLevel(*logLevel), *logPath)
	defer CloseLogger()

	if *mainFile == "" && flag.NArg() > 0 {
		*mainFile = flag.Arg(0)
	}
	backend, err := factory.NewBackend(*mainFile, debugger.BackendOption{
		ToolsRoot: *toolsRoot,
		Host:      *host,
		Port:      *port,
	})
	if err != nil {
		logrus.Errorf("create backend fail, err = %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := debugger.NewRunner(backend)
	destroyOnDone(ctx, runner)

	option := debugger.RunOption{
		MainFile:    *mainFile,
		Files:       splitFiles(*files),
		LogLevel:    constants.LogLevelOff,
		IdleTimeout: *idleTimeout,
	}
	if *dapTrace {
		option.LogLevel = constants.LogLevelVerbose
	}
	start := time.Now()
	tr, err := runner.Run(ctx, option)
	if err != nil {
		logrus.Errorf("run steps fail, err = %v", err)
		if len(tr) == 0 {
			return 1
		}
	}
	logrus.Infof("recorded %d steps in %v", len(tr), time.Since(start))

	data, err := json.Marshal(tr)
	if err != nil {
		logrus.Errorf("marshal steps fail, err = %v", err)
		return 1
	}
	fmt.Printf("%s\n%s\n%s\n", ResultBegin, data, ResultEnd)
	return 0
}

// destroyOnDone 收到信号时立即释放调试资源，不等待Run返回
func destroyOnDone(ctx context.Context, runner *debugger.Runner) {
	gosync.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		runner.Destroy("signal")
	})
}

func splitFiles(value string) []string {
	var files []string
	for _, file := range strings.Split(value, ",") {
		if file = strings.TrimSpace(file); file != "" {
			files = append(files, file)
		}
	}
	return files
}
