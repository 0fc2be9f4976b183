package dataset

import (
	"log"
	"os"
)

var debugEnabled = os.Getenv("EQUIPVIZ_PIPELINE_DEBUG") != ""

func debugLog(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	log.Printf("[pipeline] "+format, args...)
}
