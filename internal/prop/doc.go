// Package prop defines the vehicle property vocabulary shared by every layer
// of the service: property values with their tagged payload union, property
// configurations with per-area limits, get/set request and result records,
// and the status codes attached to results.
//
// Everything here is plain data. Values are treated as immutable once they
// are attached to a request or result; nothing in this package locks or
// allocates beyond the payload slices themselves.
package prop
