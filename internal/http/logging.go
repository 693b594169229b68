package http

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/logging"
)

func handlerLogger(ctx context.Context, fallback zerolog.Logger, handlerName, operation string, attrs ...any) zerolog.Logger {
	logger := fallback
	if fromCtx := logging.FromContext(ctx); fromCtx != nil {
		logger = *fromCtx
	}

	lc := logger.With().Str("handler", handlerName)
	if operation != "" {
		lc = lc.Str("operation", operation)
	}
	if len(attrs) > 0 {
		lc = lc.Fields(attrs)
	}
	return lc.Logger()
}
