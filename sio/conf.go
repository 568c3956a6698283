/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Comcast/jsonpipe/core"

	"github.com/hashicorp/go-multierror"
	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v2"
)

// Conf is a configuration object for a Driver or component.
//
// Keys are normalized to lower camel case, so "poll_interval",
// "poll-interval" and "pollInterval" are the same key.
type Conf map[string]interface{}

// LoadConf parses YAML (or JSON) into a Conf.
func LoadConf(bs []byte) (Conf, error) {
	var x interface{}
	if err := yaml.Unmarshal(bs, &x); err != nil {
		return nil, core.NewConfigurationError("", "%s", err.Error())
	}
	if x == nil {
		return Conf{}, nil
	}
	m, err := stringKeys(x)
	if err != nil {
		return nil, err
	}
	return NewConf(m), nil
}

func stringKeys(x interface{}) (map[string]interface{}, error) {
	switch vv := x.(type) {
	case map[string]interface{}:
		return vv, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			s, is := k.(string)
			if !is {
				return nil, core.NewConfigurationError(fmt.Sprintf("%v", k), "key isn't a string")
			}
			m[s] = v
		}
		return m, nil
	}
	return nil, core.NewConfigurationError("", "configuration is a %T, not an object", x)
}

// NewConf makes a Conf with normalized keys.
func NewConf(m map[string]interface{}) Conf {
	c := make(Conf, len(m))
	for k, v := range m {
		c[strcase.ToLowerCamel(k)] = v
	}
	return c
}

// Sub returns the named nested Conf (or an empty one).
func (c Conf) Sub(key string) (Conf, error) {
	x, have := c[key]
	if !have || x == nil {
		return Conf{}, nil
	}
	m, err := stringKeys(x)
	if err != nil {
		return nil, core.NewConfigurationError(key, "not an object")
	}
	return NewConf(m), nil
}

// Check reports every key that isn't recognized in one
// ConfigurationError.
func (c Conf) Check(recognized ...string) error {
	ok := make(map[string]bool, len(recognized))
	for _, k := range recognized {
		ok[strcase.ToLowerCamel(k)] = true
	}
	ks := make([]string, 0, len(c))
	for k := range c {
		if !ok[k] {
			ks = append(ks, k)
		}
	}
	if len(ks) == 0 {
		return nil
	}
	sort.Strings(ks)

	var errs *multierror.Error
	for _, k := range ks {
		errs = multierror.Append(errs, core.NewConfigurationError(k, "unrecognized key %q", k))
	}
	e := core.NewConfigurationError(strings.Join(ks, ","), "unrecognized keys: %s", strings.Join(ks, ", "))
	e.Cause = errs
	return e
}

func (c Conf) String(key, def string) (string, error) {
	x, have := c[key]
	if !have || x == nil {
		return def, nil
	}
	switch vv := x.(type) {
	case string:
		return vv, nil
	case int, float64:
		return fmt.Sprintf("%v", vv), nil
	}
	return "", core.NewConfigurationError(key, "%v isn't a string", x)
}

func (c Conf) Bool(key string, def bool) (bool, error) {
	x, have := c[key]
	if !have || x == nil {
		return def, nil
	}
	b, is := x.(bool)
	if !is {
		return false, core.NewConfigurationError(key, "%v isn't a boolean", x)
	}
	return b, nil
}

func (c Conf) Int(key string, def int) (int, error) {
	x, have := c[key]
	if !have || x == nil {
		return def, nil
	}
	switch vv := x.(type) {
	case int:
		return vv, nil
	case int64:
		return int(vv), nil
	case float64:
		if vv == float64(int(vv)) {
			return int(vv), nil
		}
	}
	return 0, core.NewConfigurationError(key, "%v isn't an integer", x)
}

// Duration accepts a duration string ("2s") or a number of seconds.
func (c Conf) Duration(key string, def time.Duration) (time.Duration, error) {
	x, have := c[key]
	if !have || x == nil {
		return def, nil
	}
	switch vv := x.(type) {
	case string:
		d, err := time.ParseDuration(vv)
		if err != nil {
			return 0, core.NewConfigurationError(key, "%s", err.Error())
		}
		return d, nil
	case int:
		return time.Duration(vv) * time.Second, nil
	case float64:
		return time.Duration(vv * float64(time.Second)), nil
	}
	return 0, core.NewConfigurationError(key, "%v isn't a duration", x)
}

// Strings accepts a list of strings or one comma-separated string.
func (c Conf) Strings(key string) ([]string, error) {
	x, have := c[key]
	if !have || x == nil {
		return nil, nil
	}
	switch vv := x.(type) {
	case string:
		var acc []string
		for _, s := range strings.Split(vv, ",") {
			if s = strings.TrimSpace(s); s != "" {
				acc = append(acc, s)
			}
		}
		return acc, nil
	case []interface{}:
		acc := make([]string, 0, len(vv))
		for _, y := range vv {
			s, is := y.(string)
			if !is {
				return nil, core.NewConfigurationError(key, "%v isn't a string", y)
			}
			acc = append(acc, s)
		}
		return acc, nil
	}
	return nil, core.NewConfigurationError(key, "%v isn't a list of strings", x)
}
