package domain

import "errors"

var (
	// ErrUnknownLevel is returned when an alert level is not info, warning or critical.
	ErrUnknownLevel = errors.New("unknown alert level")

	// ErrRecordNotFound is returned when the record source has no record with the given name.
	ErrRecordNotFound = errors.New("record not found")

	// ErrUnknownAnomalyKind is returned by simulate for an unsupported corruption kind.
	ErrUnknownAnomalyKind = errors.New("unknown anomaly kind")

	// ErrUnknownRule is returned when a detection or alert rule name is not registered.
	ErrUnknownRule = errors.New("unknown rule")

	// ErrUnknownChannel is returned when an alert channel name is not registered.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrInvalidFilename is returned when an export filename is empty or contains a path separator.
	ErrInvalidFilename = errors.New("invalid export filename")

	// ErrInvalidConfig is returned when configuration values are inconsistent.
	ErrInvalidConfig = errors.New("invalid configuration")
)
