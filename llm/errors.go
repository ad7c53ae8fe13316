package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable 后端未启用或未配置
	ErrUnavailable = errors.New("llm backend unavailable")
	// ErrTimeout 请求超过后端超时时间
	ErrTimeout = errors.New("llm request timed out")
	// ErrRateLimited 本地频率限制拒绝了请求
	ErrRateLimited = errors.New("llm rate limit exceeded")
)

// CallError carries the backend's status detail for a failed completion.
type CallError struct {
	Backend string
	Status  int
	Detail  string
	Err     error
}

func (e *CallError) Error() string {
	msg := e.Backend + " llm request failed"
	if e.Status != 0 {
		msg += fmt.Sprintf(": %d", e.Status)
	}
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}
