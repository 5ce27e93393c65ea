// Package repository 提供了数据访问层的实现。
package repository

import "fmt"

// StoreError 标识一次远端存储操作失败，携带操作名与底层原因。
// 适配层不做任何重试，错误由调用方记录并降级为无状态变更。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// storeErr 是构造 StoreError 的内部辅助函数。
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
