package util

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// 错误分类
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNotFound           = errors.New("resource not found")
	ErrTransientStore     = errors.New("transient store error")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrConflict           = errors.New("concurrent write conflict")
)

var (
	ErrUserNotFound            = fmt.Errorf("user not found: %w", ErrNotFound)
	ErrAttemptNotFound         = fmt.Errorf("attempt not found: %w", ErrNotFound)
	ErrRevisionNotFound        = fmt.Errorf("revision entry not found: %w", ErrNotFound)
	ErrTaskNotFound            = fmt.Errorf("follow-up task not found: %w", ErrNotFound)
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrRevisionNotPending      = errors.New("revision entry is not pending")
	ErrQuotaExceeded           = errors.New("free usage limit reached")
	ErrInvalidResourceKind     = errors.New("invalid resource kind")
	ErrInvalidRange            = errors.New("invalid date range preset")
	ErrInvalidTestType         = errors.New("invalid test type")
	ErrUnknownQuestion         = errors.New("unknown question")
	ErrEmptySubmission         = errors.New("submission has no answers")
)

// InvariantError 构造一个 InvariantViolation 错误
func InvariantError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// ClassifyStoreError 将底层存储错误归类为 NotFound / TransientStore，其余原样返回
func ClassifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransientStore) || errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrConflict) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return err
}

// ClassifyWriteError 在 ClassifyStoreError 基础上把唯一键冲突归为 ErrConflict
func ClassifyWriteError(err error) error {
	if err != nil && IsDuplicateKey(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return ClassifyStoreError(err)
}

// IsDuplicateKey 判断是否为唯一索引冲突（MySQL 1062 / SQLite UNIQUE）
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsTransient 判断错误是否可重试：连接/超时类错误、死锁与锁等待超时、并发写冲突
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1205 锁等待超时，1213 死锁
		return myErr.Number == 1205 || myErr.Number == 1213
	}
	if errors.Is(err, ErrTransientStore) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
