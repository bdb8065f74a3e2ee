package generation

import (
	"fmt"

	"shotbook-server/modules/common/model"
)

// ResultKind - 단계 결과 구분
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultParseError
	ResultCallError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultParseError:
		return "parse_error"
	case ResultCallError:
		return "call_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result - 생성 호출 한 번의 결과. Kind에 따라 Value 또는 Err가 의미를 가진다
type Result[T any] struct {
	Kind     ResultKind
	Value    T
	Raw      string
	Usage    model.Usage
	Err      error
	Repaired bool

	decode func(raw string) (T, error)
}

// OK - 성공 결과
func OK[T any](value T, usage model.Usage) Result[T] {
	return Result[T]{Kind: ResultOK, Value: value, Usage: usage}
}

// CallError - 외부 호출 자체가 실패한 결과
func CallError[T any](err error, usage model.Usage) Result[T] {
	return Result[T]{Kind: ResultCallError, Err: err, Usage: usage}
}

// ParseFailure - 응답은 받았지만 스키마 검증에 실패한 결과.
// decode는 Repair에서 복구된 텍스트를 다시 해석할 때 사용된다 (nil이면 복구 불가)
func ParseFailure[T any](raw string, err error, usage model.Usage, decode func(string) (T, error)) Result[T] {
	return Result[T]{Kind: ResultParseError, Raw: raw, Err: err, Usage: usage, decode: decode}
}

// Ok reports whether the result carries a usable value.
func (r Result[T]) Ok() bool {
	return r.Kind == ResultOK
}

// Error - 실패 결과의 사용자용 메시지
func (r Result[T]) Error() string {
	switch r.Kind {
	case ResultOK:
		return ""
	case ResultParseError:
		return fmt.Sprintf("unparseable response: %v", r.Err)
	default:
		if r.Err == nil {
			return "generation call failed"
		}
		return r.Err.Error()
	}
}

// Repair - ParseError 결과에 한 번의 로컬 복구를 시도한다.
// 다른 종류의 결과는 그대로 반환한다
func (r Result[T]) Repair() Result[T] {
	if r.Kind != ResultParseError || r.decode == nil {
		return r
	}
	repaired := RepairJSON(r.Raw)
	value, err := r.decode(repaired)
	if err != nil {
		out := r
		out.Err = fmt.Errorf("%v (after repair: %v)", r.Err, err)
		out.decode = nil
		return out
	}
	return Result[T]{Kind: ResultOK, Value: value, Raw: repaired, Usage: r.Usage, Repaired: true}
}
