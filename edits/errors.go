package edits

import "errors"

var (
	// errBadInput indicates a datagram too short for the fields we tried
	// to decode from it.
	errBadInput = errors.New("bad input")

	// errMalformedEdit indicates an edit record for which the tree
	// reported consuming zero or fewer bytes.
	errMalformedEdit = errors.New("malformed edit record")
)
