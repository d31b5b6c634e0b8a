package capi

import (
	"errors"
	"time"
)

// nowFunc источник времени; подменяется в тестах.
var nowFunc = time.Now

// infoOf извлекает числовой код причины из ошибки движка; 0, если кода нет.
func infoOf(err error) uint16 {
	var e *Error
	if errors.As(err, &e) {
		return e.Info
	}
	return 0
}
