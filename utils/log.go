package utils

import (
	"log"

	"github.com/acgntube/coverd/config"
)

// LogIfDevf 仅在 debug 模式下输出详细日志
func LogIfDevf(format string, args ...interface{}) {
	if config.Get().Debug || config.IsDevelopment() {
		log.Printf(format, args...)
	}
}
