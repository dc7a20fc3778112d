package render

import (
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ParticipantLine is one row in the summary's participant table.
type ParticipantLine struct {
	PrincipalID string
	IsPrimary   bool
	Share       string
	Paid        bool
	Artifacts   []string
}

// SummaryData feeds the auto-composed final artifact.
type SummaryData struct {
	Name         string
	Code         string
	Location     string
	DailyRate    string
	TotalDays    int
	TotalAmount  string
	Participants []ParticipantLine
	RawDocs      []string
	FinalizedAt  time.Time
}

// Money formats an amount for the summary page.
func Money(amount float64) string {
	return message.NewPrinter(language.English).Sprintf("%.2f", amount)
}

var summaryTmpl = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Agreement {{.Code}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #999; padding: 6px 10px; text-align: left; }
h1 { border-bottom: 2px solid #333; padding-bottom: 4px; }
.meta { color: #555; }
</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p class="meta">Agreement {{.Code}}{{if .Location}} &middot; {{.Location}}{{end}} &middot; finalized {{.FinalizedAt.Format "2006-01-02 15:04 MST"}}</p>
<h2>Commercial terms</h2>
<p>Daily rate {{.DailyRate}} &times; {{.TotalDays}} day(s) = <strong>{{.TotalAmount}}</strong></p>
<h2>Participants</h2>
<table>
<tr><th>Participant</th><th>Role</th><th>Share</th><th>Paid</th><th>Verification</th></tr>
{{range .Participants}}<tr>
<td>{{.PrincipalID}}</td>
<td>{{if .IsPrimary}}primary{{else}}member{{end}}</td>
<td>{{.Share}}</td>
<td>{{if .Paid}}yes{{else}}no{{end}}</td>
<td>{{range .Artifacts}}<img src="{{.}}" width="96" alt="verification"> {{end}}</td>
</tr>
{{end}}</table>
<h2>Documents</h2>
<ul>
{{range .RawDocs}}<li>{{.}}</li>
{{end}}</ul>
</body>
</html>
`))

// ComposeSummary renders the summary page HTML.
func ComposeSummary(data SummaryData) (string, error) {
	var sb strings.Builder
	if err := summaryTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
