// Package report renders the notifications sent at the end of a run.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

const ErrorSubject = "Error completing sync"

var (
	summaryTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{"join": join}).Parse(
		`<p>Updated the following Active Directory entries:</p>` +
			`{{range .}}<div><b>{{.CN}}</b>: {{join .Labels}}</div>{{end}}`))

	errorTemplate = template.Must(template.New("error").Parse(
		`<p>There was an unexpected error:</p><br/><div><code>{{.Detail}}</code></div>` + "\n" +
			`<br/><p>Stack trace:</p><pre>{{.Stack}}</pre>`))
)

// Entry is one updated directory entry and the labels of the fields written.
type Entry struct {
	CN     string
	Labels []string
}

// Notification is a rendered subject and HTML body.
type Notification struct {
	Subject string
	HTML    string
}

// Summary renders the notification listing every updated entry. It reports
// false when nothing was updated.
func Summary(entries []Entry) (Notification, bool, error) {
	if len(entries) == 0 {
		return Notification{}, false, nil
	}

	var body bytes.Buffer
	if err := summaryTemplate.Execute(&body, entries); err != nil {
		return Notification{}, false, fmt.Errorf("render summary: %w", err)
	}
	return Notification{
		Subject: fmt.Sprintf("Synced %d entries", len(entries)),
		HTML:    body.String(),
	}, true, nil
}

// Error renders the notification for a run that failed. The stack trace is
// the %+v rendering of err, which includes frames for errors wrapped with
// github.com/pkg/errors.
func Error(err error) (Notification, error) {
	var body bytes.Buffer
	data := struct {
		Detail string
		Stack  string
	}{
		Detail: err.Error(),
		Stack:  fmt.Sprintf("%+v", err),
	}
	if renderErr := errorTemplate.Execute(&body, data); renderErr != nil {
		return Notification{}, fmt.Errorf("render error report: %w", renderErr)
	}
	return Notification{Subject: ErrorSubject, HTML: body.String()}, nil
}

func join(labels []string) string {
	return strings.Join(labels, ", ")
}
