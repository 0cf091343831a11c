// Package digest holds the accumulated result document and renders it
// into the HTML email body. Rendering is a pure function of the
// accumulator.
package digest

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/mailsift/mailsift/internal/llm"
)

// Accumulator is the durable JSON document of pending findings awaiting
// the next daily digest. It is append-only between digests.
type Accumulator struct {
	MustDo         []llm.Finding `json:"mustDo"`
	MustKnow       []llm.Finding `json:"mustKnow"`
	TotalProcessed int           `json:"totalProcessed"`
	FirstDate      string        `json:"firstDate,omitempty"`
	LastDate       string        `json:"lastDate,omitempty"`
}

// IsEmpty reports whether there is nothing to digest.
func (a Accumulator) IsEmpty() bool {
	return len(a.MustDo) == 0 && len(a.MustKnow) == 0
}

// Merge appends the other accumulator's findings. firstDate keeps the
// earliest window start; lastDate advances to the latest window end.
func (a Accumulator) Merge(other Accumulator) Accumulator {
	merged := Accumulator{
		MustDo:         append(append([]llm.Finding(nil), a.MustDo...), other.MustDo...),
		MustKnow:       append(append([]llm.Finding(nil), a.MustKnow...), other.MustKnow...),
		TotalProcessed: a.TotalProcessed + other.TotalProcessed,
		FirstDate:      a.FirstDate,
		LastDate:       other.LastDate,
	}
	if merged.FirstDate == "" {
		merged.FirstDate = other.FirstDate
	}
	if merged.LastDate == "" {
		merged.LastDate = a.LastDate
	}
	return merged
}

var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body style="font-family: sans-serif; color: #222;">
<h2>{{.Title}}</h2>
<p>{{.Acc.TotalProcessed}} emails processed{{if .Acc.FirstDate}} from {{.Acc.FirstDate}} to {{.Acc.LastDate}}{{end}}.</p>
{{if .Acc.MustDo}}
<h3>Must do</h3>
<ul>
{{range .Acc.MustDo}}<li><b>{{.Subject}}</b> &mdash; {{.Sender}}<br/>
<i>{{.Topic}}</i>: {{.KeyAction}}</li>
{{end}}</ul>
{{end}}
{{if .Acc.MustKnow}}
<h3>Must know</h3>
<ul>
{{range .Acc.MustKnow}}<li><b>{{.Subject}}</b> &mdash; {{.Sender}}<br/>
<i>{{.Topic}}</i>: {{.KeyKnowledge}}</li>
{{end}}</ul>
{{end}}
{{if and (not .Acc.MustDo) (not .Acc.MustKnow)}}<p>Nothing needs your attention.</p>{{end}}
</body>
</html>`))

// Render produces the HTML body for the digest email.
func Render(title string, acc Accumulator) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Title string
		Acc   Accumulator
	}{Title: title, Acc: acc}
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}
