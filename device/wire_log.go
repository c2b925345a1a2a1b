// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package device

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strconv"

	"github.com/iancoleman/strcase"

	"github.com/IlyaSemenov/terneo-ha/internal/log"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

// wireLogger dumps request/response exchanges at debug level.
type wireLogger struct {
	log.Logger
}

func (l wireLogger) exchange(
	ctx context.Context,
	request any,
	response map[string]any,
) {
	// Building the attribute set requires reflection, so bail out if we
	// don't need it.
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := l.requestAttrs(realValue(reflect.ValueOf(request)))
	attrs = append(attrs, l.responseAttr(response))
	l.Log(ctx, slog.LevelDebug, "device exchange", attrs...)
}

func (l wireLogger) requestAttrs(val reflect.Value) []slog.Attr {
	typ := val.Type()
	num := typ.NumField()

	var attrs []slog.Attr
	for i := 0; i < num; i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		attrs = append(attrs, l.fieldAttrs(
			strcase.ToSnake(field.Name),
			realValue(val.Field(i)),
		)...)
	}
	return attrs
}

func (l wireLogger) fieldAttrs(name string, val reflect.Value) []slog.Attr {
	if missingValue(val) {
		return nil
	}

	switch v := val.Interface().(type) {
	case []wire.Parameter:
		entries := make([]any, len(v))
		for i, p := range v {
			entries[i] = slog.String(strconv.Itoa(int(p.ID)), p.Raw)
		}
		return []slog.Attr{slog.Group(name, entries...)}

	case map[string][]wire.Period:
		days := make([]string, 0, len(v))
		for day := range v {
			days = append(days, day)
		}
		sort.Strings(days)

		entries := make([]any, 0, len(v))
		for _, day := range days {
			entries = append(entries, slog.Int(day, len(v[day])))
		}
		return []slog.Attr{slog.Group(name, entries...)}
	}

	return []slog.Attr{slog.Any(name, val.Interface())}
}

func (l wireLogger) responseAttr(response map[string]any) slog.Attr {
	keys := make([]string, 0, len(response))
	for key := range response {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]any, 0, len(response))
	for _, key := range keys {
		entries = append(entries, slog.Any(key, response[key]))
	}
	return slog.Group("response", entries...)
}

func realValue(val reflect.Value) reflect.Value {
	for val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	return val
}

func missingValue(val reflect.Value) bool {
	switch val.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Map, reflect.Slice:
		return val.IsNil()
	}
	return false
}
