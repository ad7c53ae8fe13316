package providers

import (
	"errors"
	"fmt"
)

// ErrNoData 数据源返回空结果(代码不存在或当天无数据)
var ErrNoData = errors.New("no data")

// ErrorKind 数据源错误分类
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindTransient        ErrorKind = "transient"
	KindBadResponse      ErrorKind = "bad_response"
	KindUnsupported      ErrorKind = "unsupported"
	KindAllFailed        ErrorKind = "all_failed"
	KindProviderNotFound ErrorKind = "provider_not_found"
)

// ProviderError 数据源错误
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, provider, op string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Op: op, Err: err}
}

func unsupported(provider, op string) error {
	return newError(KindUnsupported, provider, op, fmt.Errorf("%s does not support %s", provider, op))
}

// KindOf returns the kind of a provider error, or "" for foreign errors.
// ErrNoData reports KindNotFound.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrNoData) {
		return KindNotFound
	}
	return ""
}
