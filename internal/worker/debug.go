package worker

import (
	"os"
	"strconv"

	"pdfchat/internal/logger"
)

// PDFCHAT_WORKER_DEBUG=1 traces job assignment at info level.
var workerDebugEnabled, _ = strconv.ParseBool(os.Getenv("PDFCHAT_WORKER_DEBUG"))

func debugLog(format string, args ...interface{}) {
	if !workerDebugEnabled {
		return
	}
	logger.Logger().WithField("component", "worker").Infof(format, args...)
}
