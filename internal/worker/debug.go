package worker

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("DOCQUERY_WORKER_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if workerDebugEnabled {
		log.Debug().Msgf(format, args...)
	}
}
