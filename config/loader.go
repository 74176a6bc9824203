// =============================================================================
// 📦 AgentLoop 配置加载
// =============================================================================
// 合并顺序: DefaultConfig → YAML 文件 → 环境变量 (AGENTLOOP_<SECTION>_<FIELD>)
//
//	cfg, err := config.Load("agentloop.yaml")
//
// 需要自定义前缀或额外校验时使用 Loader:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath(path).
//	    WithEnvPrefix("MYAPP").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "AGENTLOOP"

// Load 读取 path（可为空）与 AGENTLOOP_* 环境变量并执行 Validate
func Load(path string) (*Config, error) {
	return NewLoader().
		WithConfigPath(path).
		WithValidator((*Config).Validate).
		Load()
}

// Loader 组装配置来源
type Loader struct {
	path       string
	prefix     string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建使用进程环境变量的加载器
func NewLoader() *Loader {
	return &Loader{prefix: DefaultEnvPrefix, lookupEnv: os.LookupEnv}
}

// WithConfigPath 设置 YAML 文件路径，文件不存在时只用默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = prefix
	return l
}

// WithLookupEnv 替换环境变量来源
func (l *Loader) WithLookupEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// WithValidator 追加校验函数，按添加顺序执行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 合并所有来源后依次执行校验
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.decodeFile(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", l.path, err)
	}
	if err := l.applyEnv(reflect.ValueOf(cfg).Elem(), l.prefix); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// decodeFile 严格解码：未知字段视为错误，空文件等同于无文件
func (l *Loader) decodeFile(cfg *Config) error {
	if l.path == "" {
		return nil
	}
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv 按 env 标签递归覆盖字段，收集所有解析失败
func (l *Loader) applyEnv(v reflect.Value, prefix string) error {
	var errs []error
	t := v.Type()
	for i := range v.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnv(field, key); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		raw, ok := l.lookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		if err := parseInto(field, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", key, raw, err))
		}
	}
	return errors.Join(errs...)
}

var durationType = reflect.TypeFor[time.Duration]()

// parseInto 将字符串写入标量、[]string 或 map[string]int 字段
func parseInto(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		field.Set(reflect.ValueOf(splitList(raw)))
		return nil
	case field.Kind() == reflect.Map:
		return parseMap(field, raw)
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// parseMap 解析 "k1=v1,k2=v2"，值按 map 的元素类型转换
func parseMap(field reflect.Value, raw string) error {
	mt := field.Type()
	if mt.Key().Kind() != reflect.String {
		return fmt.Errorf("unsupported map key type %s", mt.Key())
	}
	m := reflect.MakeMap(mt)
	for _, pair := range splitList(raw) {
		k, val, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("entry %q is not key=value", pair)
		}
		elem := reflect.New(mt.Elem()).Elem()
		if err := parseInto(elem, strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("entry %q: %w", k, err)
		}
		m.SetMapIndex(reflect.ValueOf(k), elem)
	}
	field.Set(m)
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
