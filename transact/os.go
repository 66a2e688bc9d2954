package transact

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrNotPointer is returned by SetConfigFromEnvVars when s is not a pointer
// to a struct.
var ErrNotPointer = errors.New("config must be a pointer to a struct")

var durationType = reflect.TypeOf(time.Duration(0))

// GetenvOrDefault returns the trimmed value of key, or defaultValue when the
// variable is unset or blank.
func GetenvOrDefault(key string, defaultValue string) string {
	str := strings.TrimSpace(os.Getenv(key))
	if str == "" {
		return defaultValue
	}

	return str
}

// GetenvBoolOrDefault parses key with strconv.ParseBool.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	str := strings.TrimSpace(os.Getenv(key))

	if val, err := strconv.ParseBool(str); err == nil {
		return val
	}

	return defaultValue
}

// GetenvIntOrDefault parses key as a base-10 int64.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	str := strings.TrimSpace(os.Getenv(key))

	if val, err := strconv.ParseInt(str, 10, 64); err == nil {
		return val
	}

	return defaultValue
}

// GetenvDurationOrDefault parses key with time.ParseDuration.
func GetenvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	str := strings.TrimSpace(os.Getenv(key))

	if val, err := time.ParseDuration(str); err == nil {
		return val
	}

	return defaultValue
}

// SetConfigFromEnvVars fills the fields of the struct s points to from the
// environment variables named by their `env` tags. Supported kinds are
// string, bool, the signed integers and time.Duration. Fields whose variable
// is unset keep their current value, so defaults can be assigned first.
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	v = v.Elem()
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)

		tag, ok := field.Tag.Lookup("env")
		if !ok || tag == "" || tag == "-" || !field.IsExported() {
			continue
		}

		raw, set := os.LookupEnv(tag)
		raw = strings.TrimSpace(raw)

		if !set || raw == "" {
			continue
		}

		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("env %s: %w", tag, err)
		}
	}

	return nil
}

func setField(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		fv.SetInt(int64(d))

		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return err
		}

		fv.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}

	return nil
}

// LocalEnvConfig records the outcome of loading a local .env file.
type LocalEnvConfig struct {
	Initialized bool
}

var (
	localEnvConfig     *LocalEnvConfig
	localEnvConfigOnce sync.Once
)

// InitLocalEnvConfig prints the version and environment name and, when
// ENV_NAME is "local", loads .env from the working directory. It runs once
// per process.
func InitLocalEnvConfig() *LocalEnvConfig {
	version := GetenvOrDefault("VERSION", "NO-VERSION")
	envName := GetenvOrDefault("ENV_NAME", "local")

	fmt.Printf("VERSION: %s\n\n", version)
	fmt.Printf("ENVIRONMENT NAME: %s\n\n", envName)

	if envName != "local" {
		return nil
	}

	localEnvConfigOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Skipping .env file, using process environment.")

			localEnvConfig = &LocalEnvConfig{Initialized: false}

			return
		}

		fmt.Println("Environment variables loaded from .env file.")

		localEnvConfig = &LocalEnvConfig{Initialized: true}
	})

	return localEnvConfig
}
