package errs

import (
	"context"
	"errors"
)

// 通用错误码
const (
	ServerInternalError = 500

	ArgsError             = 1001 // 参数错误
	NoPermissionError     = 1002 // 无权限
	RecordNotFoundError   = 1004 // 记录不存在
	StateError            = 1005 // 状态机校验失败
	ConflictError         = 1006 // 唯一约束冲突
	InvalidOperationError = 1007 // 非法操作（如加自己为好友）

	PersistenceError = 1101 // 存储不可达或返回未知错误
	TimeoutError     = 1102 // 超时，结果未知

	TokenExpiredError = 1501
	TokenInvalidError = 1502
)

var (
	ErrInternal         = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrInvalidArgument  = NewCodeError(ArgsError, "InvalidArgument")
	ErrForbidden        = NewCodeError(NoPermissionError, "Forbidden")
	ErrNotFound         = NewCodeError(RecordNotFoundError, "NotFound")
	ErrInvalidState     = NewCodeError(StateError, "InvalidState")
	ErrConflict         = NewCodeError(ConflictError, "Conflict")
	ErrInvalidOperation = NewCodeError(InvalidOperationError, "InvalidOperation")
	ErrPersistence      = NewCodeError(PersistenceError, "PersistenceError")
	ErrTimeout          = NewCodeError(TimeoutError, "Timeout")
	ErrTokenExpired     = NewCodeError(TokenExpiredError, "TokenExpired")
	ErrTokenInvalid     = NewCodeError(TokenInvalidError, "TokenInvalid")
)

func init() {
	// InvalidOperation 属于参数错误的一种
	_ = DefaultCodeRelation.Add(ArgsError, InvalidOperationError)
}

// Persistence classifies a store failure: deadline expiry becomes ErrTimeout,
// code errors pass through, everything else becomes ErrPersistence.
func Persistence(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	if Code(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.WrapMsg(msg, append(kv, "cause", err.Error())...)
	}
	return ErrPersistence.WrapMsg(msg, append(kv, "cause", err.Error())...)
}
