package domain

import "errors"

var (
	// ErrValidation is returned when a required field is missing.
	ErrValidation = errors.New("validation failed")
	// ErrQuestionNotFound is returned when a question is absent from both the cache and the store.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrUserNotFound is returned when user state cannot be resolved.
	ErrUserNotFound = errors.New("user state not found")
	// ErrIdempotencyConflict indicates an idempotency key reused by a different user.
	ErrIdempotencyConflict = errors.New("idempotency key reused for different user")
	// ErrNoQuestionsAvailable is returned when the whole fallback ladder came up empty.
	ErrNoQuestionsAvailable = errors.New("no questions available")

	// ErrCacheMiss is returned by cache adapters when a key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
	// ErrIdempotencyKeyTaken is returned by stores when a commit lost the race on the key.
	ErrIdempotencyKeyTaken = errors.New("idempotency key already recorded")
)
