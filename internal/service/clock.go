package service

import (
	"context"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"exam_prep_backend/pkg/tracing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Clock 当前时间来源，测试中可替换
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// retryTransient 对幂等操作在 TransientStore 错误时重试一次
func retryTransient(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !util.IsTransient(err) {
		return err
	}
	logger.Log.Warn("transient store error, retrying once", zap.String("op", op), zap.Error(err))
	if ctx.Err() != nil {
		return err
	}
	return fn()
}

func startSpan(ctx context.Context, name string, userID uint) (context.Context, trace.Span) {
	return tracing.StartSpan(ctx, name, attribute.Int64("user.id", int64(userID)))
}

func endSpan(span trace.Span, err error) {
	tracing.EndSpan(span, err)
}
