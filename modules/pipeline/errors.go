package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrShotNotFound      = errors.New("shot not found")
	ErrShotLocked        = errors.New("shot is approved and locked")
	ErrShotBusy          = errors.New("shot has an operation in flight")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAssetCapReached   = errors.New("asset limit reached for shot")
	ErrNoKeyframe        = errors.New("shot has no keyframe")
)

// BreakdownError - 스크립트 단위 단계(breakdown, scene plan) 실패. 실행 전체가 중단된다
type BreakdownError struct {
	Stage string
	Err   error
}

func (e *BreakdownError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *BreakdownError) Unwrap() error {
	return e.Err
}
