package prop

// GetRequest asks for the current value of one property. The request id is
// caller-chosen and only needs to be unique among that caller's in-flight
// requests; Value carries property and area only, its payload stays empty.
type GetRequest struct {
	RequestID int64 `json:"request_id"`
	Value     Value `json:"value"`
}

// SetRequest writes one property value.
type SetRequest struct {
	RequestID int64 `json:"request_id"`
	Value     Value `json:"value"`
}

// GetResult is the terminal outcome of one get request. Value is present
// only when Status is OK.
type GetResult struct {
	RequestID int64      `json:"request_id"`
	Status    StatusCode `json:"status"`
	Value     *Value     `json:"value,omitempty"`
}

// Equal compares results, treating values per Value.Equal.
func (r GetResult) Equal(o GetResult) bool {
	if r.RequestID != o.RequestID || r.Status != o.Status {
		return false
	}
	if (r.Value == nil) != (o.Value == nil) {
		return false
	}
	if r.Value == nil {
		return true
	}
	return r.Value.Equal(*o.Value)
}

// SetResult is the terminal outcome of one set request.
type SetResult struct {
	RequestID int64      `json:"request_id"`
	Status    StatusCode `json:"status"`
}
