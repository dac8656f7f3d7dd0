package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	paymentIssueSubject = "Action needed — payment issue with Apps on Purpose™"
	saleTimeZone        = "America/New_York"
)

var (
	welcomeTemplate      = template.Must(template.New("welcome").Parse(welcomeHTML))
	saleNoticeTemplate   = template.Must(template.New("sale").Parse(saleNoticeHTML))
	paymentIssueTemplate = template.Must(template.New("payment_issue").Parse(paymentIssueHTML))

	saleLocation = mustLoadLocation(saleTimeZone)
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// bonusKind selects the plan-specific block of the welcome email.
type bonusKind string

const (
	bonusNone    bonusKind = ""
	bonusCreator bonusKind = "creator"
	bonusAgency  bonusKind = "agency"
)

func bonusFor(planName string) bonusKind {
	switch {
	case strings.Contains(planName, "Creator"):
		return bonusCreator
	case strings.Contains(planName, "Agency"):
		return bonusAgency
	default:
		return bonusNone
	}
}

type welcomeData struct {
	FirstName    string
	PlanName     string
	MagicLink    string
	Bonus        bonusKind
	SupportEmail string
	SiteURL      string
	SiteHost     string
	Year         int
}

type saleNoticeData struct {
	Name     string
	Email    string
	Plan     string
	Amount   string
	Currency string
	Time     string
}

type paymentIssueData struct {
	BillingPortalURL string
	SupportEmail     string
}

func welcomeSubject(firstName string) string {
	return fmt.Sprintf("You're in, %s — access your Apps on Purpose™ dashboard ✦", firstName)
}

func saleNoticeSubject(plan, amount, currency string) string {
	return fmt.Sprintf("[AOP] ✦ New Sale — %s $%s %s", plan, amount, currency)
}

func formatSaleTime(t time.Time) string {
	return t.In(saleLocation).Format("1/2/2006, 3:04:05 PM") + " EST"
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

const welcomeHTML = `<!DOCTYPE html><html><head><meta charset="UTF-8"></head>
<body style="margin:0;padding:0;background:#0E0A06;font-family:'Helvetica Neue',Arial,sans-serif;">
<div style="max-width:580px;margin:0 auto;padding:48px 20px;">

  <div style="text-align:center;margin-bottom:40px;">
    <p style="font-size:10px;letter-spacing:0.28em;text-transform:uppercase;color:#C9A96E;margin:0 0 10px;">ELVT Social</p>
    <h1 style="font-size:32px;font-weight:300;color:#FAF6F0;margin:0;">Apps <em style="color:#C9A96E;font-style:italic;">on Purpose</em>™</h1>
  </div>

  <div style="background:#150F08;border:1px solid rgba(201,169,110,0.15);padding:40px;">
    <p style="font-size:11px;letter-spacing:0.2em;text-transform:uppercase;color:#C9A96E;margin:0 0 16px;">Welcome, {{.FirstName}} ✦</p>
    <p style="font-size:20px;font-weight:300;color:#FAF6F0;line-height:1.5;margin:0 0 16px;">Your <strong>{{.PlanName}}</strong> membership is active.</p>
    <p style="font-size:15px;color:#D4C5B0;line-height:1.8;margin:0 0 8px;">Click the button below to access your dashboard — <strong style="color:#FAF6F0;">no password required.</strong></p>
    <p style="font-size:13px;color:rgba(212,197,176,0.5);margin:0 0 32px;">One click and you're in.</p>

    <div style="text-align:center;margin:0 0 32px;">
      <a href="{{.MagicLink}}" style="display:inline-block;background:#C9A96E;color:#0E0A06;padding:18px 48px;text-decoration:none;font-weight:700;font-size:12px;letter-spacing:0.22em;text-transform:uppercase;">Access My Dashboard →</a>
      <p style="font-size:12px;color:rgba(250,246,240,0.3);margin:12px 0 0;">This link expires in 24 hours · Good for one use</p>
    </div>

    <div style="border-top:1px solid rgba(201,169,110,0.1);padding-top:24px;margin-bottom:0;">
      <p style="font-size:12px;color:rgba(212,197,176,0.5);margin:0 0 12px;text-transform:uppercase;letter-spacing:0.15em;">What's waiting for you</p>
      <p style="font-size:13px;color:#D4C5B0;margin:0 0 8px;">✦ &nbsp;7 course modules — build your first app today</p>
      <p style="font-size:13px;color:#D4C5B0;margin:0 0 8px;">✦ &nbsp;MakeMyApp GPT — your app concept in 2 minutes</p>
      <p style="font-size:13px;color:#D4C5B0;margin:0 0 8px;">✦ &nbsp;50% recurring affiliate commissions</p>
      <p style="font-size:13px;color:#D4C5B0;margin:0;">✦ &nbsp;Private community access</p>
    </div>
{{if eq .Bonus "creator"}}
    <div style="background:#1A1208;border-left:3px solid #C9A96E;padding:20px 24px;margin:24px 0;">
      <p style="margin:0 0 6px;font-size:11px;color:#C9A96E;letter-spacing:0.15em;text-transform:uppercase;">Creator License Active ✦</p>
      <p style="margin:0;font-size:14px;color:#D4C5B0;line-height:1.7;">You can now sell Apps on Purpose™ as your own product and keep 100% of sales.</p>
    </div>
{{else if eq .Bonus "agency"}}
    <div style="background:#1A1208;border-left:3px solid #C9A96E;padding:20px 24px;margin:24px 0;">
      <p style="margin:0 0 6px;font-size:11px;color:#C9A96E;letter-spacing:0.15em;text-transform:uppercase;">Agency Access Active ✦</p>
      <p style="margin:0;font-size:14px;color:#D4C5B0;line-height:1.7;">Your onboarding call will be scheduled within 24 hours.</p>
    </div>
{{end}}
    <p style="font-size:13px;color:#D4C5B0;line-height:1.8;margin:24px 0 0;">
      Need a new login link later? Just email <a href="mailto:{{.SupportEmail}}" style="color:#C9A96E;text-decoration:none;">{{.SupportEmail}}</a> and we'll send one within minutes.
    </p>
  </div>

  <p style="font-size:11px;color:rgba(250,246,240,0.25);text-align:center;margin-top:28px;">
    ELVT Social · Apps on Purpose™ © {{.Year}} · <a href="{{.SiteURL}}" style="color:rgba(201,169,110,0.4);text-decoration:none;">{{.SiteHost}}</a>
  </p>
</div>
</body></html>`

const saleNoticeHTML = `<div style="font-family:sans-serif;padding:32px;background:#0E0A06;color:#FAF6F0;max-width:480px;">
  <h2 style="color:#C9A96E;font-weight:300;font-size:22px;margin:0 0 24px;">New Sale ✦</h2>
  <table style="width:100%;border-collapse:collapse;font-size:14px;">
    <tr style="border-bottom:1px solid rgba(201,169,110,0.1)"><td style="padding:10px 0;color:rgba(250,246,240,0.45);width:100px;">Name</td><td>{{.Name}}</td></tr>
    <tr style="border-bottom:1px solid rgba(201,169,110,0.1)"><td style="padding:10px 0;color:rgba(250,246,240,0.45);">Email</td><td>{{.Email}}</td></tr>
    <tr style="border-bottom:1px solid rgba(201,169,110,0.1)"><td style="padding:10px 0;color:rgba(250,246,240,0.45);">Plan</td><td>{{.Plan}}</td></tr>
    <tr style="border-bottom:1px solid rgba(201,169,110,0.1)"><td style="padding:10px 0;color:rgba(250,246,240,0.45);">Amount</td><td style="color:#C9A96E;font-weight:700;font-size:18px;">${{.Amount}} {{.Currency}}</td></tr>
    <tr><td style="padding:10px 0;color:rgba(250,246,240,0.45);">Time</td><td>{{.Time}}</td></tr>
  </table>
  <p style="margin-top:24px;font-size:12px;color:rgba(250,246,240,0.3);">Apps on Purpose™ by ELVT Social</p>
</div>`

const paymentIssueHTML = `<div style="font-family:sans-serif;max-width:560px;padding:40px;background:#0E0A06;color:#FAF6F0;">
  <h2 style="color:#C9A96E;font-weight:300;margin:0 0 16px;">Payment Issue</h2>
  <p style="color:#D4C5B0;line-height:1.7;margin:0 0 24px;">We weren't able to process your latest payment for Apps on Purpose™. Your access remains active for now — please update your payment method to avoid interruption.</p>
  <a href="{{.BillingPortalURL}}" style="display:inline-block;background:#C9A96E;color:#0E0A06;padding:14px 32px;text-decoration:none;font-weight:700;font-size:11px;letter-spacing:0.2em;text-transform:uppercase;">Update Payment Method →</a>
  <p style="margin-top:32px;font-size:12px;color:rgba(250,246,240,0.3);">Questions? <a href="mailto:{{.SupportEmail}}" style="color:#C9A96E;text-decoration:none;">{{.SupportEmail}}</a></p>
</div>`
