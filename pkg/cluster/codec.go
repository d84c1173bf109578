package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// Codec maps property values to and from their stored string form. Decode
// must invert Encode; Set checks this for every value it writes.
type Codec[T comparable] interface {
	Encode(v T) (string, error)
	Decode(s string) (T, error)
}

// CodecFuncs adapts a pair of functions to a Codec
type CodecFuncs[T comparable] struct {
	EncodeFunc func(T) (string, error)
	DecodeFunc func(string) (T, error)
}

func (c CodecFuncs[T]) Encode(v T) (string, error) {
	return c.EncodeFunc(v)
}

func (c CodecFuncs[T]) Decode(s string) (T, error) {
	return c.DecodeFunc(s)
}

// infallible lifts an encoder that cannot fail
func infallible[T any](fn func(T) string) func(T) (string, error) {
	return func(v T) (string, error) {
		return fn(v), nil
	}
}

// Predefined codecs
var (
	StringCodec Codec[string] = CodecFuncs[string]{
		EncodeFunc: infallible(func(s string) string { return s }),
		DecodeFunc: func(s string) (string, error) { return s, nil },
	}

	BoolCodec Codec[bool] = CodecFuncs[bool]{
		EncodeFunc: infallible(strconv.FormatBool),
		DecodeFunc: strconv.ParseBool,
	}

	IntCodec Codec[int] = CodecFuncs[int]{
		EncodeFunc: infallible(strconv.Itoa),
		DecodeFunc: strconv.Atoi,
	}

	Int64Codec Codec[int64] = CodecFuncs[int64]{
		EncodeFunc: infallible(func(v int64) string { return strconv.FormatInt(v, 10) }),
		DecodeFunc: func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) },
	}

	Float32Codec Codec[float32] = CodecFuncs[float32]{
		EncodeFunc: infallible(func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }),
		DecodeFunc: func(s string) (float32, error) {
			v, err := strconv.ParseFloat(s, 32)
			return float32(v), err
		},
	}

	Float64Codec Codec[float64] = CodecFuncs[float64]{
		EncodeFunc: infallible(func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }),
		DecodeFunc: func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
	}

	// RuneCodec stores a single character; decoding takes the first rune
	RuneCodec Codec[rune] = CodecFuncs[rune]{
		EncodeFunc: infallible(func(r rune) string { return string(r) }),
		DecodeFunc: decodeRune,
	}

	DurationCodec Codec[time.Duration] = CodecFuncs[time.Duration]{
		EncodeFunc: infallible(time.Duration.String),
		DecodeFunc: time.ParseDuration,
	}
)

var errEmptyRune = errors.New("empty string has no first character")

func decodeRune(s string) (rune, error) {
	if s == "" {
		return 0, errEmptyRune
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// JSONCodec stores comparable structs as JSON
func JSONCodec[T comparable]() Codec[T] {
	return CodecFuncs[T]{
		EncodeFunc: func(v T) (string, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		DecodeFunc: func(s string) (T, error) {
			var v T
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return v, fmt.Errorf("invalid JSON value: %w", err)
			}
			return v, nil
		},
	}
}

// sameValue is == except that NaN equals NaN
func sameValue[T comparable](a, b T) bool {
	return a == b || (a != a && b != b)
}

// roundTrip encodes v and checks that decoding gives v back
func roundTrip[T comparable](codec Codec[T], v T) (string, error) {
	raw, err := codec.Encode(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode %v: %v", ErrNotBijective, v, err)
	}
	back, err := codec.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: decode %q: %v", ErrNotBijective, raw, err)
	}
	if !sameValue(back, v) {
		return "", fmt.Errorf("%w: %v encodes to %q which decodes to %v", ErrNotBijective, v, raw, back)
	}
	return raw, nil
}
