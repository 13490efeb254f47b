// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package config

import (
	"net"
	"net/url"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/c2h5oh/datasize"
	validator "gopkg.in/bluesuncorp/validator.v9"
)

// Limit validations compare field with tag param, like `validate:"min-time=1ms"`.
// Field of other type, or unparsable param makes value invalid.
var (
	MinTimeValidation = limitValidation(time.ParseDuration, atLeast[time.Duration])
	MaxTimeValidation = limitValidation(time.ParseDuration, atMost[time.Duration])
	MinSizeValidation = limitValidation(parseSize, atLeast[datasize.ByteSize])
	MaxSizeValidation = limitValidation(parseSize, atMost[datasize.ByteSize])
)

type limit interface {
	time.Duration | datasize.ByteSize
}

func limitValidation[T limit](parse func(string) (T, error), check func(value, bound T) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(T)
		if !ok {
			return false
		}
		bound, err := parse(fl.Param())
		return err == nil && check(value, bound)
	}
}

func atLeast[T limit](value, bound T) bool { return value >= bound }
func atMost[T limit](value, bound T) bool { return value <= bound }

func parseSize(s string) (datasize.ByteSize, error) {
	var size datasize.ByteSize
	err := size.UnmarshalText([]byte(s))
	return size, err
}

// TargetStringValidation accepts absolute http or https URL with host.
func TargetStringValidation(value string) bool {
	if !govalidator.IsURL(value) {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// "host:port" or ":port"
func EndpointStringValidation(value string) bool {
	host, port, err := net.SplitHostPort(value)
	return err == nil &&
		(host == "" || govalidator.IsHost(host)) &&
		govalidator.IsPort(port)
}
