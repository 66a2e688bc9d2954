package log

import (
	"context"
	"fmt"
)

// SafeError logs err at error level. When production is true only the error
// type is logged, because store and broker errors may echo connection strings.
func SafeError(ctx context.Context, logger Logger, msg string, err error, production bool) {
	if logger == nil || err == nil {
		return
	}

	if !logger.Enabled(LevelError) {
		return
	}

	if production {
		logger.Log(ctx, LevelError, msg, String("error_type", fmt.Sprintf("%T", err)))
		return
	}

	logger.Log(ctx, LevelError, msg, Err(err))
}

// OrNop returns logger, or a NopLogger when logger is nil.
//
//nolint:ireturn
func OrNop(logger Logger) Logger {
	if logger == nil {
		return &NopLogger{}
	}

	return logger
}
