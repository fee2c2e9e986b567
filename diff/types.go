package diff

import "fmt"

// Change is a single attribute update needed to bring a directory entry in
// line with its source record.
type Change struct {
	Label         string
	DirectoryKey  string
	PreviousValue string
	NewValue      string
}

// LogLine renders the change as "<cn>/<attribute>: <old> => <new>".
func (c Change) LogLine(cn string) string {
	return fmt.Sprintf("%s/%s: %s => %s", cn, c.DirectoryKey, c.PreviousValue, c.NewValue)
}

// Labels returns the field labels of changes, in order.
func Labels(changes []Change) []string {
	labels := make([]string, 0, len(changes))
	for _, c := range changes {
		labels = append(labels, c.Label)
	}
	return labels
}
