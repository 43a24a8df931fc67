package jobs

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// WriteSSE writes ev as one server-sent event frame:
//
//	event: <type>
//	data: <json>
func WriteSSE(w io.Writer, ev Event) error {
	data, err := sonic.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
