package optional

import (
	"github.com/Blackdeer1524/GraphKernel/src/pkg/assert"
)

type optionalTagT int

const (
	optionalNoneTag optionalTagT = iota
	optionalSomeTag
)

type Optional[T any] struct {
	tag   optionalTagT
	value T
}

func Some[T any](value T) Optional[T] {
	return Optional[T]{
		tag:   optionalSomeTag,
		value: value,
	}
}

func None[T any]() Optional[T] {
	return Optional[T]{
		tag:   optionalNoneTag,
		value: *new(T),
	}
}

func (opt *Optional[T]) Expect(msg string) T {
	assert.Assert(opt.tag != optionalNoneTag, msg)
	return opt.value
}

func (opt *Optional[T]) Unwrap() T {
	assert.Assert(opt.tag != optionalNoneTag)
	return opt.value
}

func (opt *Optional[T]) UnwrapOr(fallback T) T {
	if opt.tag == optionalNoneTag {
		return fallback
	}
	return opt.value
}

func (opt *Optional[T]) IsNone() bool {
	return opt.tag == optionalNoneTag
}

func (opt *Optional[T]) IsSome() bool {
	return opt.tag != optionalNoneTag
}
