package notify

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// FailureReport renders the failed recipients of a run as CSV
func FailureReport(s Summary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"email", "error"}); err != nil {
		return nil, err
	}
	for _, f := range s.Failures {
		if err := w.Write([]string{f.Email, f.Error}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return buf.Bytes(), nil
}

// Text is the human readable one-paragraph summary used by chat sinks
func Text(s Summary) string {
	return fmt.Sprintf("Campaign %q finished: %s\nTotal: %d, sent: %d, failed: %d",
		s.Name, s.Status, s.Total, s.Sent, s.Failed)
}
