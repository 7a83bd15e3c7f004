package debugger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	e "github.com/fansqz/go-step-tracer/error"
	"github.com/sirupsen/logrus"
)

// RunCompiler 在workPath目录下执行编译命令
// 编译失败时返回编译器的错误输出，输出中的workPath会被替换成相对路径
func RunCompiler(ctx context.Context, workPath string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workPath
	cmd.Stdout = &bytes.Buffer{}
	cmd.Stderr = &bytes.Buffer{}

	logrus.Debugf("[Compile] %s %v", name, args)
	var err error
	if err = cmd.Start(); err == nil {
		err = cmd.Wait()
	}
	if err == nil {
		return nil
	}
	errMessage := maskPath(cmd.Stderr.(*bytes.Buffer).String(), workPath)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: compile timeout\n%s", e.ErrCompileFailed, errMessage)
	}
	if errMessage == "" {
		errMessage = err.Error()
	}
	return fmt.Errorf("%w: %s", e.ErrCompileFailed, errMessage)
}

// RemoveExt 去掉文件的扩展名
func RemoveExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// RemoveArtifact 删除编译产物，文件不存在不算失败
func RemoveArtifact(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func maskPath(message string, workPath string) string {
	if message == "" || workPath == "" || workPath == "." {
		return strings.TrimSpace(message)
	}
	return strings.TrimSpace(strings.ReplaceAll(message, workPath+string(filepath.Separator), ""))
}
