// Package config loads bridge configuration with the precedence
// CLI flag > DIRETTANODE_* environment variable > TOML file > default.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envPrefix namespaces environment overrides.
const envPrefix = "DIRETTANODE_"

// Load applies TOML and environment values to opts in place. Fields
// are matched via `toml:"section.key"` and `env:"KEY"` struct tags.
// Flags the user set explicitly on cmd always win and are left alone.
func Load(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changed[f.Name] = true
			}
		})
	}

	var configPath string
	for i := 0; i < v.NumField(); i++ {
		if t.Field(i).Name == "Config" {
			configPath = v.Field(i).String()
			break
		}
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var file map[string]any
			if err := toml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse %s: %w", configPath, err)
			}
			for i := 0; i < v.NumField(); i++ {
				field := v.Field(i)
				fieldType := t.Field(i)
				if changed[flagName(fieldType.Name)] {
					continue
				}
				if path := fieldType.Tag.Get("toml"); path != "" {
					if value := nestedValue(file, path); value != nil {
						setValue(field, value)
					}
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if changed[flagName(fieldType.Name)] {
			continue
		}
		if key := fieldType.Tag.Get("env"); key != "" {
			if env := os.Getenv(envPrefix + key); env != "" {
				setValueFromString(field, env)
			}
		}
	}

	return nil
}

// ModuleLevels reads the [logging.modules] table from the config file.
// Missing file or table yields an empty map.
func ModuleLevels(configPath string) map[string]string {
	modules := make(map[string]string)
	if configPath == "" {
		return modules
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return modules
	}
	var file struct {
		Logging struct {
			Modules map[string]string `toml:"modules"`
		} `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return modules
	}
	if file.Logging.Modules != nil {
		modules = file.Logging.Modules
	}
	return modules
}

// flagName converts a struct field name to its CLI flag name,
// e.g. "CycleTime" -> "cycle-time"; an all-caps run stays one word,
// e.g. "MTU" -> "mtu".
func flagName(fieldName string) string {
	var out []rune
	prevUpper := false
	for i, r := range fieldName {
		upper := unicode.IsUpper(r)
		if i > 0 && upper && !prevUpper {
			out = append(out, '-')
		}
		out = append(out, unicode.ToLower(r))
		prevUpper = upper
	}
	return string(out)
}

// nestedValue walks a dotted path through nested TOML tables.
func nestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

func setValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		switch n := value.(type) {
		case int64:
			if n >= 0 {
				field.SetUint(uint64(n))
			}
		case int:
			if n >= 0 {
				field.SetUint(uint64(n))
			}
		}
	}
}

func setValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			field.SetUint(n)
		}
	}
}
