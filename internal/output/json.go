package output

import (
	"encoding/json"
	"io"
)

// JSONWriter renders the whole report as indented JSON.
type JSONWriter struct{}

func (JSONWriter) Write(out io.Writer, r *Report) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
