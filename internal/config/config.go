// Package config resolves Tiny SSE's CLI flags against TINYSSE_<UPPER_CASE>
// environment variables, flags taking precedence when the user set them
// explicitly on the command line.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const envPrefix = "TINYSSE_"

// EnvName converts a flag name such as "max-body-size" into the environment
// variable Tiny SSE reads it from, TINYSSE_MAX_BODY_SIZE.
func EnvName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// ApplyEnv walks every flag registered on fs and, for any flag the user did
// not set explicitly on the command line, applies the value found in its
// corresponding environment variable, if set.
func ApplyEnv(fs *pflag.FlagSet) error {
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envName := EnvName(f.Name)
		val, ok := os.LookupEnv(envName)
		if !ok {
			return
		}
		if err := fs.Set(f.Name, val); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("config: env %s: %w", envName, err)
		}
	})
	return firstErr
}
