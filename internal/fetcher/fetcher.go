package fetcher

import (
	"context"
	"fmt"

	"fx-notifier/internal/rates"
)

// RateFetcher retrieves the latest rates for base against symbols.
type RateFetcher interface {
	Fetch(ctx context.Context, base string, symbols []string) (rates.RateSet, error)
}

// FetchError reports a failure to obtain a usable response from the rate API.
type FetchError struct {
	Status int
	Msg    string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Msg != "":
		return fmt.Sprintf("fetch rates: api error (%d): %s", e.Status, e.Msg)
	case e.Status != 0:
		return fmt.Sprintf("fetch rates: api error (%d)", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch rates: %v", e.Err)
	default:
		return "fetch rates: " + e.Msg
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a response body that could not be interpreted.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse rates response: %s: %v", e.Msg, e.Err)
	}
	return "parse rates response: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }
