// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package config

import (
	"github.com/pkg/errors"
	"gopkg.in/bluesuncorp/validator.v9"
)

var defaultValidator = newValidator()

// Validate checks `validate` tags of value fields, including nested structs,
// and custom validations registered for value types.
func Validate(value interface{}) error {
	return errors.WithStack(defaultValidator.Struct(value))
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("validate")
	tags := map[string]validator.Func{
		"min-time": MinTimeValidation,
		"max-time": MaxTimeValidation,
		"min-size": MinSizeValidation,
		"max-size": MaxSizeValidation,
		"target":   StringValidation(TargetStringValidation).Func(),
		"endpoint": StringValidation(EndpointStringValidation).Func(),
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	return v
}

// StringValidation checks string field. Field of other type is invalid.
type StringValidation func(value string) bool

func (sv StringValidation) Func() validator.Func {
	return func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && sv(s)
	}
}

// ValidateHandle is passed to CustomValidation.
type ValidateHandle interface {
	// Value is validated struct value.
	Value() interface{}
	ReportError(field, reason string)
}

// CustomValidation checks relations between fields, that can't be expressed with tags.
type CustomValidation func(h ValidateHandle)

// RegisterCustom registers validation, that is called for every validated value of
// passed types, including nested fields. Return value allows registration
// in package var declaration.
func RegisterCustom(v CustomValidation, types ...interface{}) (_ struct{}) {
	if len(types) == 0 {
		panic("custom validation should be registered for at least one type")
	}
	defaultValidator.RegisterStructValidation(func(sl validator.StructLevel) {
		v(structLevelHandle{sl})
	}, types...)
	return
}

type structLevelHandle struct{ validator.StructLevel }

func (sl structLevelHandle) Value() interface{} { return sl.Current().Interface() }

func (sl structLevelHandle) ReportError(field, reason string) {
	sl.StructLevel.ReportError(nil, field, "", reason, "")
}
