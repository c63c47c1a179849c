package recon

// Validate checks that an envelope payload honors the handler contract:
// non-nil, a boolean "found" flag, and — when present — a string "error".
// Renderers use it before trusting payload fields; the executor uses it
// to reject malformed handler output at the boundary.
func Validate(data map[string]any) (bool, string) {
	if data == nil {
		return false, "no data"
	}
	v, ok := data["found"]
	if !ok {
		return false, "missing found flag"
	}
	if _, ok := v.(bool); !ok {
		return false, "found is not a boolean"
	}
	if e, ok := data["error"]; ok {
		if _, ok := e.(string); !ok {
			return false, "error is not a string"
		}
	}
	return true, ""
}
