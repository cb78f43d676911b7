// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// FlagBinder is implemented by parameter types that register their
// own flags instead of being reflected over.
type FlagBinder interface {
	AddFlags(flagSet *pflag.FlagSet)
}

// FlagsFromParams returns a flag set bound to the tagged fields of
// params, a pointer to a struct. It panics on a malformed params type.
func FlagsFromParams(name string, params any) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if err := BindFlags(params, flagSet); err != nil {
		panic(fmt.Sprintf("cli.FlagsFromParams(%q): %v", name, err))
	}
	return flagSet
}

// BindFlags registers a flag for every field of params tagged
// flag:"name" or flag:"name,n" (with shorthand). desc:"..." is the
// help text and default:"..." the default, parsed for the field's
// type. Supported types are string, bool, int, time.Duration, and
// []string. Struct fields implementing FlagBinder add their own flags;
// other embedded structs are walked recursively.
func BindFlags(params any, flagSet *pflag.FlagSet) error {
	value := reflect.ValueOf(params)
	if value.Kind() != reflect.Pointer || value.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("params must be a pointer to a struct, got %T", params)
	}
	return bindStruct(value.Elem(), flagSet)
}

func bindStruct(structValue reflect.Value, flagSet *pflag.FlagSet) error {
	structType := structValue.Type()
	for i := range structType.NumField() {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		if field.Type.Kind() == reflect.Struct && field.IsExported() {
			if binder, ok := fieldValue.Addr().Interface().(FlagBinder); ok {
				binder.AddFlags(flagSet)
				continue
			}
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := bindStruct(fieldValue, flagSet); err != nil {
				return fmt.Errorf("embedded %s: %w", field.Name, err)
			}
			continue
		}

		tag := field.Tag.Get("flag")
		if tag == "" {
			continue
		}
		name, shorthand, _ := strings.Cut(tag, ",")
		if err := bindField(fieldValue, flagSet, name, shorthand, field.Tag.Get("desc"), field.Tag.Get("default")); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func bindField(fieldValue reflect.Value, flagSet *pflag.FlagSet, name, shorthand, description, fallback string) error {
	switch target := fieldValue.Addr().Interface().(type) {
	case *string:
		flagSet.StringVarP(target, name, shorthand, fallback, description)
	case *bool:
		value := false
		if fallback != "" {
			parsed, err := strconv.ParseBool(fallback)
			if err != nil {
				return fmt.Errorf("default for --%s: %w", name, err)
			}
			value = parsed
		}
		flagSet.BoolVarP(target, name, shorthand, value, description)
	case *int:
		value := 0
		if fallback != "" {
			parsed, err := strconv.Atoi(fallback)
			if err != nil {
				return fmt.Errorf("default for --%s: %w", name, err)
			}
			value = parsed
		}
		flagSet.IntVarP(target, name, shorthand, value, description)
	case *time.Duration:
		var value time.Duration
		if fallback != "" {
			parsed, err := time.ParseDuration(fallback)
			if err != nil {
				return fmt.Errorf("default for --%s: %w", name, err)
			}
			value = parsed
		}
		flagSet.DurationVarP(target, name, shorthand, value, description)
	case *[]string:
		var value []string
		if fallback != "" {
			value = strings.Split(fallback, ",")
		}
		flagSet.StringSliceVarP(target, name, shorthand, value, description)
	default:
		return fmt.Errorf("unsupported type %s for flag --%s", fieldValue.Type(), name)
	}
	return nil
}
