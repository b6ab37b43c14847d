package model

import "fmt"

// LoadError reports that a model or its tokenizer failed to initialize.
// It propagates to the caller; the next request retries through the lazy
// load path, there is no automatic retry.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s model: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
