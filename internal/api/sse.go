package api

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// writeEvent writes one server-sent event whose data is v encoded as JSON.
func writeEvent(w io.Writer, event string, v any) error {
	if strings.ContainsAny(event, "\r\n") {
		return fmt.Errorf("sse: invalid event name %q", event)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// json.Marshal never emits raw newlines, so data fits one field.
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
