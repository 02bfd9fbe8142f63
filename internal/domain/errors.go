package domain

import "errors"

var (
	// ErrNotFound возвращается, когда запись отсутствует в хранилище.
	ErrNotFound = errors.New("not found")

	// ErrConfigurationMissing возвращается, когда не задан обязательный параметр окружения.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrResolution возвращается, когда источник не смог определить набор чатов.
	ErrResolution = errors.New("collection cannot be resolved")
)
