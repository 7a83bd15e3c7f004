package factory

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
	"github.com/fansqz/go-step-tracer/debugger/c_debugger"
	"github.com/fansqz/go-step-tracer/debugger/cpp_debugger"
	"github.com/fansqz/go-step-tracer/debugger/java_debugger"
	"github.com/fansqz/go-step-tracer/debugger/php_debugger"
	"github.com/fansqz/go-step-tracer/debugger/python_debugger"
	e "github.com/fansqz/go-step-tracer/error"
)

// LanguageOf 根据文件后缀判断语言
func LanguageOf(path string) (constants.LanguageType, error) {
	ext := strings.ToLower(filepath.Ext(path))
	language, ok := constants.LanguageByExtension[ext]
	if !ok {
		return "", fmt.Errorf("unknown extension \"%s\", expected one of \"%s\": %w",
			ext, strings.Join(Extensions(), `", "`), e.ErrLanguageNotSupported)
	}
	return language, nil
}

// Extensions 支持的文件后缀
func Extensions() []string {
	extensions := make([]string, 0, len(constants.LanguageByExtension))
	for ext := range constants.LanguageByExtension {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)
	return extensions
}

// NewBackend 根据主文件的后缀创建调试后端
func NewBackend(path string, option debugger.BackendOption) (*debugger.Backend, error) {
	language, err := LanguageOf(path)
	if err != nil {
		return nil, err
	}
	switch language {
	case constants.LanguageC:
		return c_debugger.NewCBackend(option), nil
	case constants.LanguageCpp:
		return cpp_debugger.NewCppBackend(option), nil
	case constants.LanguagePHP:
		return php_debugger.NewPHPBackend(option), nil
	case constants.LanguagePython:
		return python_debugger.NewPythonBackend(option), nil
	case constants.LanguageJava:
		return java_debugger.NewJavaBackend(option), nil
	default:
		return nil, e.ErrLanguageNotSupported
	}
}
