package error

import "errors"

var (
	ErrCompileFailed        = errors.New("Compilation error")
	ErrLanguageNotSupported = errors.New("This language is not supported")
	ErrClientClosed         = errors.New("debug adapter client is closed")
	ErrAdapterNotReady      = errors.New("debug adapter server exited before it was ready")
	ErrMainFileRequired     = errors.New("main file is required")
	ErrSessionIdle          = errors.New("no debug event received before idle timeout")
)
