package transform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class 失败的大类，决定重试策略
type Class string

const (
	ClassTransient       Class = "transient"        // 重试，耗尽后单元失败
	ClassPermanent       Class = "permanent"        // 不重试，终止整个任务
	ClassContentRejected Class = "content_rejected" // 有限重试，之后走单元回退
)

// Kind 具体失败原因
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindUnavailable      Kind = "unavailable"
	KindInternal         Kind = "internal"
	KindUnauthenticated  Kind = "unauthenticated"
	KindInvalidRequest   Kind = "invalid_request"
	KindPermissionDenied Kind = "permission_denied"
	KindSafety           Kind = "safety"
	KindEmpty            Kind = "empty"
	KindRefusal          Kind = "refusal"
)

// ErrEmptyOutput 服务返回空结果
var ErrEmptyOutput = errors.New("empty transform output")

// Error 转换服务错误
type Error struct {
	Class   Class
	Kind    Kind
	Message string
	Cause   error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s/%s] %s", e.Class, e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 返回原因错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable 是否属于可重试的类别
func (e *Error) IsRetryable() bool {
	return e.Class == ClassTransient || e.Class == ClassContentRejected
}

// NewTransientError 创建瞬时错误
func NewTransientError(kind Kind, message string, cause error) *Error {
	return &Error{Class: ClassTransient, Kind: kind, Message: message, Cause: cause}
}

// NewPermanentError 创建永久错误
func NewPermanentError(kind Kind, message string, cause error) *Error {
	return &Error{Class: ClassPermanent, Kind: kind, Message: message, Cause: cause}
}

// NewContentRejectedError 创建内容被拒绝错误
func NewContentRejectedError(kind Kind, message string, cause error) *Error {
	return &Error{Class: ClassContentRejected, Kind: kind, Message: message, Cause: cause}
}

// ClassOf 返回错误的类别，非转换错误返回空字符串
func ClassOf(err error) Class {
	var te *Error
	if errors.As(err, &te) {
		return te.Class
	}
	return ""
}

// IsTransient 是否为瞬时错误
func IsTransient(err error) bool { return ClassOf(err) == ClassTransient }

// IsPermanent 是否为永久错误
func IsPermanent(err error) bool { return ClassOf(err) == ClassPermanent }

// IsContentRejected 是否为内容被拒绝
func IsContentRejected(err error) bool { return ClassOf(err) == ClassContentRejected }

// Classify 把任意错误归入失败分类。取消错误原样返回。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(KindTimeout, "request deadline exceeded", err)
	}
	if errors.Is(err, ErrEmptyOutput) {
		return NewContentRejectedError(KindEmpty, "service returned no usable text", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError(KindTimeout, "network timeout", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "too many requests", "quota", "resource exhausted", "429"):
		return NewTransientError(KindRateLimited, "rate limited", err)
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return NewTransientError(KindTimeout, "timeout", err)
	case containsAny(msg, "unavailable", "503", "502", "connection refused", "connection reset", "eof"):
		return NewTransientError(KindUnavailable, "service unavailable", err)
	case containsAny(msg, "invalid api key", "unauthorized", "unauthenticated", "401"):
		return NewPermanentError(KindUnauthenticated, "invalid credentials", err)
	case containsAny(msg, "permission denied", "forbidden", "403"):
		return NewPermanentError(KindPermissionDenied, "permission denied", err)
	case containsAny(msg, "safety", "blocked", "content_filter", "content filter"):
		return NewContentRejectedError(KindSafety, "content blocked", err)
	}
	return NewTransientError(KindInternal, "unclassified service error", err)
}

// HTTPStatusError 按 HTTP 状态码分类
func HTTPStatusError(status int, message string, cause error) *Error {
	switch {
	case status == 401:
		return NewPermanentError(KindUnauthenticated, message, cause)
	case status == 403:
		return NewPermanentError(KindPermissionDenied, message, cause)
	case status == 408 || status == 504:
		return NewTransientError(KindTimeout, message, cause)
	case status == 429:
		return NewTransientError(KindRateLimited, message, cause)
	case status == 502 || status == 503:
		return NewTransientError(KindUnavailable, message, cause)
	case status >= 500:
		return NewTransientError(KindInternal, message, cause)
	case status >= 400:
		return NewPermanentError(KindInvalidRequest, message, cause)
	}
	return NewTransientError(KindInternal, message, cause)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
