package service

import "errors"

// 业务层通用错误，ws 层根据错误类型映射成 auth_error 或 error 事件。
var (
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrDuplicatePhone     = errors.New("phone number already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrValidation         = errors.New("validation failed")
	ErrUnauthenticated    = errors.New("not authenticated")
)
