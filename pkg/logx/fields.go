package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field is a single key/value attached to an event. The zero Field is skipped.
type Field struct {
	Key string
	put func(e *zerolog.Event, key string)
}

func (f Field) apply(e *zerolog.Event) {
	if f.put != nil {
		f.put(e, f.Key)
	}
}

func String(k, v string) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Str(key, v) }}
}

func Strs(k string, v []string) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Strs(key, v) }}
}

func Int(k string, v int) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Int(key, v) }}
}

func Int64(k string, v int64) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Int64(key, v) }}
}

func Uint64(k string, v uint64) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Uint64(key, v) }}
}

func Float64(k string, v float64) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Float64(key, v) }}
}

func Bool(k string, v bool) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Bool(key, v) }}
}

// Duration renders d the way time.Duration.String does ("1m30s"), which
// reads better in console output than zerolog's numeric default.
func Duration(k string, d time.Duration) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Str(key, d.String()) }}
}

func Time(k string, t time.Time) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Time(key, t) }}
}

func Any(k string, v any) Field {
	return Field{Key: k, put: func(e *zerolog.Event, key string) { e.Interface(key, v) }}
}

// Err attaches err under "err". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return Field{}
	}
	return Field{Key: "err", put: func(e *zerolog.Event, key string) { e.AnErr(key, err) }}
}
