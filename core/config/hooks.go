// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package config

import (
	"encoding"
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/c2h5oh/datasize"
	"github.com/facebookgo/stack"
	"github.com/facebookgo/stackerr"
)

// Debug enables decode tracing to stdout.
var Debug = os.Getenv("MUXLOAD_CONFIG_DEBUG") != ""

var (
	InvalidURLError = errors.New("string is not valid URL")
	EnvNotSetError  = errors.New("env variable not set")
)

var (
	urlPtrType         = reflect.TypeOf(&url.URL{})
	urlType            = reflect.TypeOf(url.URL{})
	dataSizeType       = reflect.TypeOf(datasize.B)
	durationType       = reflect.TypeOf(time.Duration(0))
	textUnmarshalerTyp = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// StringToURLHook converts string to url.URL or *url.URL
func StringToURLHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	if t != urlPtrType && t != urlType {
		return data, nil
	}
	str := data.(string)

	if !govalidator.IsURL(str) { // checks more than url.Parse
		return nil, stackerr.Wrap(InvalidURLError)
	}
	urlPtr, err := url.Parse(str)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}

	if t == urlType {
		return *urlPtr, nil
	}
	return urlPtr, nil
}

// StringToDataSizeHook converts string like "4KB" to datasize.ByteSize
func StringToDataSizeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	if t != dataSizeType {
		return data, nil
	}
	var size datasize.ByteSize
	err := size.UnmarshalText([]byte(data.(string)))
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	return size, nil
}

// TextUnmarshallerHook decodes string into non-pointer types, which pointer implements
// encoding.TextUnmarshaler. zapcore.Level for example.
func TextUnmarshallerHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	if t.Kind() == reflect.Ptr || t == dataSizeType || !reflect.PtrTo(t).Implements(textUnmarshalerTyp) {
		return data, nil
	}
	val := reflect.New(t)
	err := val.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(data.(string)))
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	return val.Elem().Interface(), nil
}

var envTagRegexp = regexp.MustCompile(`\$\{\s*env\s*:\s*([^{}\s]+)\s*\}`)

// EnvInjectHook replaces ${env:NAME} in strings with NAME environment variable value.
// If whole string is one tag, and target is bool or number, value is parsed.
func EnvInjectHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	str := data.(string)
	matches := envTagRegexp.FindAllStringSubmatch(str, -1)
	if len(matches) == 0 {
		return data, nil
	}
	for _, m := range matches {
		val, ok := os.LookupEnv(m[1])
		if !ok {
			return nil, stackerr.Wrap(fmt.Errorf("%s: %w", m[1], EnvNotSetError))
		}
		str = strings.ReplaceAll(str, m[0], val)
	}
	if len(matches) > 1 || strings.TrimSpace(data.(string)) != matches[0][0] {
		return str, nil
	}
	return castEnvValue(str, t)
}

func castEnvValue(v string, t reflect.Type) (interface{}, error) {
	if t == durationType || reflect.PtrTo(t).Implements(textUnmarshalerTyp) {
		return v, nil // Decoded by other hooks.
	}
	var (
		res interface{}
		err error
	)
	switch t.Kind() {
	case reflect.Bool:
		res, err = strconv.ParseBool(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		i, err = strconv.ParseInt(v, 0, t.Bits())
		res = reflect.ValueOf(i).Convert(t).Interface()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		u, err = strconv.ParseUint(v, 0, t.Bits())
		res = reflect.ValueOf(u).Convert(t).Interface()
	case reflect.Float32, reflect.Float64:
		var fl float64
		fl, err = strconv.ParseFloat(v, t.Bits())
		res = reflect.ValueOf(fl).Convert(t).Interface()
	default:
		return v, nil
	}
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	return res, nil
}

// DebugHook used to debug config decode.
func DebugHook(f reflect.Type, t reflect.Type, data interface{}) (p interface{}, err error) {
	p, err = data, nil
	if !Debug {
		return
	}
	callers := stack.Callers(2)
	var decodeCallers int
	for _, caller := range callers {
		if caller.Name == "(*Decoder).decode" {
			decodeCallers++
		}
	}

	offset := strings.Repeat("    ", decodeCallers)
	fmt.Printf("%s %s from %s %v\n", offset, t, f, data)
	return
}
