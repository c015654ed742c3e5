// Package notify delivers finished digests to subscribers over email or
// Telegram.
package notify

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/katerpii/issue-agent/internal/domain"
)

const htmlDigest = `<!DOCTYPE html>
<html>
<body>
<h2>{{.Heading}}</h2>
{{range .Sections -}}
<h3>{{.Source}}</h3>
<ul>
{{range .Items -}}
<li><a href="{{.URL}}">{{.Title}}</a> ({{.Score}}/10){{if .Reason}} <em>{{.Reason}}</em>{{end}}</li>
{{end -}}
</ul>
{{end -}}
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
</body>
</html>`

var digestTmpl = template.Must(template.New("digest").Parse(htmlDigest))

type digestSection struct {
	Source string
	Items  []domain.ScoredResult
}

type digestData struct {
	Heading  string
	Sections []digestSection
	Summary  string
}

// BuildSubject returns the one-line digest headline.
func BuildSubject(sub domain.Subscription, res domain.FilteredResult) string {
	return fmt.Sprintf("%d new results for %s", res.TotalCount, strings.Join(sub.Query.Keywords, ", "))
}

// BuildHTML renders the digest as a small HTML document. Sources keep the
// order of the original query; sources without surviving items are skipped.
func BuildHTML(sub domain.Subscription, res domain.FilteredResult) (string, error) {
	data := digestData{
		Heading: BuildSubject(sub, res),
		Summary: res.Summary,
	}
	for _, source := range res.Sources {
		items := res.BySource[source]
		if len(items) == 0 {
			continue
		}
		data.Sections = append(data.Sections, digestSection{Source: source, Items: items})
	}

	var buf strings.Builder
	if err := digestTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}

// BuildText renders the digest as plain text for chat channels.
func BuildText(sub domain.Subscription, res domain.FilteredResult) string {
	var b strings.Builder
	b.WriteString(BuildSubject(sub, res))
	b.WriteString("\n")
	for _, source := range res.Sources {
		items := res.BySource[source]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d)\n", source, len(items))
		for _, item := range items {
			fmt.Fprintf(&b, "- %s (%d/10)\n  %s\n", item.Title, item.Score, item.URL)
		}
	}
	if res.Summary != "" {
		b.WriteString("\n")
		b.WriteString(res.Summary)
		b.WriteString("\n")
	}
	return b.String()
}
