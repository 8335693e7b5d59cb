package session

// NotFoundError reports a name absent from the session's file listing.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return "file not in listing: " + e.Name
}

func (e *NotFoundError) Is(tgt error) bool {
	_, ok := tgt.(*NotFoundError)
	return ok
}
