package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Template names one of the rendered emails.
type Template string

const (
	TemplateProposalSubmitted Template = "proposal_submitted"
	TemplateProposalAccepted  Template = "proposal_accepted"
	TemplateProposalRejected  Template = "proposal_rejected"
	TemplateNewMessage        Template = "new_message"
	TemplateContractStatus    Template = "contract_status"
	TemplateReviewReceived    Template = "review_received"
)

// Data feeds every template; each one reads the fields it needs.
type Data struct {
	ActorName     string
	ProjectTitle  string
	ContractTitle string
	Preview       string
	FileName      string
	Status        string
	Reason        string
	Rating        int
}

const previewLimit = 50

// Preview shortens message text for emails and notifications: anything longer than
// 50 characters keeps its first 47 followed by "...".
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLimit {
		return text
	}
	return string(r[:previewLimit-3]) + "..."
}

var subjects = map[Template]func(Data) string{
	TemplateProposalSubmitted: func(d Data) string { return "New Proposal for " + d.ProjectTitle },
	TemplateProposalAccepted:  func(d Data) string { return "Proposal Accepted for " + d.ProjectTitle },
	TemplateProposalRejected:  func(d Data) string { return "Proposal Update for " + d.ProjectTitle },
	TemplateNewMessage:        func(d Data) string { return "New Message from " + d.ActorName },
	TemplateContractStatus: func(d Data) string {
		return fmt.Sprintf("Contract %s: %s", strings.ReplaceAll(d.Status, "_", " "), d.ContractTitle)
	},
	TemplateReviewReceived: func(d Data) string { return "New review for " + d.ContractTitle },
}

const layout = `{{define "layout"}}<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
{{template "content" .}}
<div style="margin-top: 30px; padding: 15px; background-color: #f8f9fa; border-radius: 5px;">
<p style="margin: 0;">Best regards,<br>TalentLink Team</p>
</div>
</div>
</body>
</html>{{end}}`

var bodies = map[Template]string{
	TemplateProposalSubmitted: `{{define "content"}}<h2 style="color: #2c3e50;">New Proposal Received!</h2>
<p>Hello,</p>
<p>You have received a new proposal for your project <strong>{{.ProjectTitle}}</strong>.</p>
<p><strong>Freelancer:</strong> {{.ActorName}}</p>
<p>Log in to your account to review the proposal and make a decision.</p>{{end}}`,

	TemplateProposalAccepted: `{{define "content"}}<h2 style="color: #27ae60;">Congratulations! Proposal Accepted</h2>
<p>Hello,</p>
<p>Great news! Your proposal for the project <strong>{{.ProjectTitle}}</strong> has been accepted.</p>
<p>The client has approved your proposal and you can now proceed with the project.</p>
<p>Log in to your account to view the project details and get started.</p>{{end}}`,

	TemplateProposalRejected: `{{define "content"}}<h2 style="color: #e74c3c;">Proposal Update</h2>
<p>Hello,</p>
<p>We wanted to inform you that your proposal for the project <strong>{{.ProjectTitle}}</strong> has been declined.</p>
<p>Keep browsing available projects and submit proposals that match your skills and experience.</p>{{end}}`,

	TemplateNewMessage: `{{define "content"}}<h2 style="color: #2c3e50;">You have a new message!</h2>
<p>Hello,</p>
<p>You have received a new message from <strong>{{.ActorName}}</strong>.</p>
{{if .FileName}}<p style="color: #3498db; font-weight: bold;">File attached: {{.FileName}}</p>{{end}}
{{if .Preview}}<div style="background-color: #f0f0f0; padding: 15px; border-left: 4px solid #3498db; margin: 20px 0;">
<p style="font-style: italic; margin: 0;">"{{.Preview}}"</p>
</div>{{end}}
<p>Log in to your account to view the full conversation and reply.</p>{{end}}`,

	TemplateContractStatus: `{{define "content"}}<h2 style="color: #2c3e50;">Contract update</h2>
<p>Hello,</p>
<p>The contract <strong>{{.ContractTitle}}</strong> is now <strong>{{.Status}}</strong>.</p>
{{if .ActorName}}<p><strong>Updated by:</strong> {{.ActorName}}</p>{{end}}
{{if .Reason}}<p><strong>Reason:</strong> {{.Reason}}</p>{{end}}
<p>Log in to your account to view the contract.</p>{{end}}`,

	TemplateReviewReceived: `{{define "content"}}<h2 style="color: #2c3e50;">You received a review</h2>
<p>Hello,</p>
<p>{{.ActorName}} rated your work on <strong>{{.ContractTitle}}</strong> {{.Rating}} out of 5.</p>
<p>Log in to your account to read the full review.</p>{{end}}`,
}

var templates = func() map[Template]*template.Template {
	out := make(map[Template]*template.Template, len(bodies))
	for name, body := range bodies {
		t := template.Must(template.New(string(name)).Parse(layout))
		out[name] = template.Must(t.Parse(body))
	}
	return out
}()

// Render produces the subject and HTML body for a template.
func Render(name Template, d Data) (string, string, error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", d); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return subjects[name](d), buf.String(), nil
}
