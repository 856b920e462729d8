package mail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"talentlink/internal/config"
	"talentlink/internal/logging"
)

func TestPreview(t *testing.T) {
	short := strings.Repeat("a", 50)
	if got := Preview(short); got != short {
		t.Fatalf("50 chars should pass through, got %q", got)
	}
	long := strings.Repeat("b", 51)
	got := Preview(long)
	if got != strings.Repeat("b", 47)+"..." {
		t.Fatalf("unexpected preview %q", got)
	}
	if n := len([]rune(got)); n != 50 {
		t.Fatalf("expected 50 runes, got %d", n)
	}
	multi := strings.Repeat("é", 60)
	if got := Preview(multi); got != strings.Repeat("é", 47)+"..." {
		t.Fatalf("preview should count runes, got %q", got)
	}
}

func TestRenderNewMessage(t *testing.T) {
	subject, body, err := Render(TemplateNewMessage, Data{ActorName: "Ada", Preview: "hello there", FileName: "brief.pdf"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "New Message from Ada" {
		t.Fatalf("subject %q", subject)
	}
	for _, want := range []string{"<strong>Ada</strong>", "File attached: brief.pdf", "hello there", "TalentLink Team"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}

	_, body, err = Render(TemplateNewMessage, Data{ActorName: "Ada", Preview: "no file"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body, "File attached") {
		t.Fatalf("file line should be omitted without a file")
	}
}

func TestRenderEscapesUserContent(t *testing.T) {
	_, body, err := Render(TemplateProposalSubmitted, Data{ActorName: "<script>x</script>", ProjectTitle: "Site"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Fatalf("user content must be escaped:\n%s", body)
	}
}

func TestRenderSubjects(t *testing.T) {
	d := Data{ActorName: "Bo", ProjectTitle: "Logo", ContractTitle: "Logo", Status: "completed", Rating: 5}
	got := map[Template]string{}
	for _, name := range []Template{TemplateProposalSubmitted, TemplateProposalAccepted, TemplateProposalRejected, TemplateContractStatus, TemplateReviewReceived} {
		subject, _, err := Render(name, d)
		if err != nil {
			t.Fatalf("render %s: %v", name, err)
		}
		got[name] = subject
	}
	want := map[Template]string{
		TemplateProposalSubmitted: "New Proposal for Logo",
		TemplateProposalAccepted:  "Proposal Accepted for Logo",
		TemplateProposalRejected:  "Proposal Update for Logo",
		TemplateContractStatus:    "Contract completed: Logo",
		TemplateReviewReceived:    "New review for Logo",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("subjects mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := Render("nope", d); err == nil {
		t.Fatalf("expected unknown template error")
	}
}

func TestValidAddress(t *testing.T) {
	cases := map[string]bool{
		"ada@example.com":       true,
		"":                      false,
		"ada":                   false,
		"Ada <ada@example.com>": false,
		" ada@example.com ":     true,
	}
	for in, want := range cases {
		if got := ValidAddress(in); got != want {
			t.Fatalf("ValidAddress(%q)=%v want %v", in, got, want)
		}
	}
}

func TestHTTPMailerPostsJSON(t *testing.T) {
	var got httpMailBody
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "k1", "noreply@talentlink.test", 0)
	if err := m.Send(context.Background(), Message{To: "ada@example.com", Subject: "Hi", HTML: "<p>x</p>"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := httpMailBody{From: "noreply@talentlink.test", To: "ada@example.com", Subject: "Hi", HTML: "<p>x</p>"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
	if auth != "Bearer k1" {
		t.Fatalf("authorization header %q", auth)
	}
}

func TestHTTPMailerNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewHTTPMailer(srv.URL, "", "", 0).Send(context.Background(), Message{To: "ada@example.com"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSMTPMailerRefusesIncompleteCredentials(t *testing.T) {
	m := &SMTPMailer{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"}
	if err := m.Send(context.Background(), Message{To: "ada@example.com"}); !errors.Is(err, ErrIncompleteCredentials) {
		t.Fatalf("expected ErrIncompleteCredentials, got %v", err)
	}
}

func TestSMTPMessageEncodesHeadersAndBody(t *testing.T) {
	m := &SMTPMailer{From: "noreply@example.com"}
	out, err := m.compose(Message{
		To:      "ada@example.com",
		Subject: "Proposal for “Café rebrand” – naïve",
		HTML:    "<p>" + strings.Repeat("é", 1200) + "</p>",
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	var buf strings.Builder
	if _, err := out.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.String()
	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header/body separator in %q", raw)
	}
	for _, want := range []string{"Date: ", "Message-ID: ", "Subject: =?UTF-8?", "MIME-Version: 1.0"} {
		if !strings.Contains(head, want) {
			t.Fatalf("header %q missing from:\n%s", want, head)
		}
	}
	if strings.Contains(head, "Café") {
		t.Fatalf("subject left unencoded:\n%s", head)
	}
	if !strings.Contains(strings.ToLower(raw), "content-transfer-encoding: quoted-printable") {
		t.Fatalf("body should be quoted-printable:\n%s", raw)
	}
	for _, line := range strings.Split(raw, "\r\n") {
		if len(line) > 998 {
			t.Fatalf("line of %d octets exceeds the SMTP limit", len(line))
		}
	}
	if !strings.Contains(body, "=C3=A9") {
		t.Fatalf("body should carry encoded UTF-8")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := config.Default().Mail
	m, err := New(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := m.(LogMailer); !ok {
		t.Fatalf("default provider should be log, got %T", m)
	}

	cfg.Provider = "smtp"
	cfg.SMTP.Host = "smtp.example.com"
	m, err = New(cfg, nil)
	if err != nil {
		t.Fatalf("new smtp: %v", err)
	}
	if s, ok := m.(*SMTPMailer); !ok || s.Port != 587 {
		t.Fatalf("expected smtp mailer on 587, got %#v", m)
	}

	cfg.Provider = "pigeon"
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
