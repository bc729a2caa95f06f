package fetcher

import "fmt"

// ValidationError reports a user-fixable problem with the submitted URL
// (malformed, disallowed protocol). Never retried.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.URL, e.Reason)
}

// PolicyError reports that robots.txt disallows fetching the target path.
type PolicyError struct {
	URL  string
	Rule string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("robots.txt disallows %q (rule %q)", e.URL, e.Rule)
}

// FetchError reports a failed page retrieval after the retry budget is
// exhausted, or a permanent HTTP failure.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %q: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %q: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
