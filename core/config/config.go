// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// Package config decodes abstract configs, like viper AllSettings result,
// into structs with `config` tagged fields, and validates them with
// `validate` tags.
package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const TagName = "config"

// decodeHook is applied to every decoded value, in order.
var decodeHook = mapstructure.ComposeDecodeHookFunc(
	EnvInjectHook,
	DebugHook,
	TextUnmarshallerHook,
	mapstructure.StringToTimeDurationHookFunc(),
	StringToURLHook,
	StringToDataSizeHook,
)

// Decode decodes data into result, that should be pointer to struct.
// Fields, that have no value in data, are not zeroed, so defaults set in result are kept.
// Unknown keys and values of wrong type are errors: input is not weakly typed.
func Decode(data interface{}, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  decodeHook,
		ErrorUnused: true,
		TagName:     TagName,
		Result:      result,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(decoder.Decode(data))
}

func DecodeAndValidate(data interface{}, result interface{}) error {
	if err := Decode(data, result); err != nil {
		return err
	}
	return Validate(result)
}
