package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"matchbreak/internal/types"
)

// Renderer produces the subject/html/text content for each booking email.
// Rendering is pure: it reads only the booking snapshot it is given.
type Renderer interface {
	RenderConfirmation(b *types.Booking) (types.RenderedEmail, error)
	RenderAdminNotification(b *types.Booking) (types.RenderedEmail, error)
	RenderReveal(b *types.Booking) (types.RenderedEmail, error)
}

// BookingRenderer renders the three transactional booking emails from
// compiled-in templates. The confirmation deliberately withholds the
// destination; the trip stays a surprise until the reveal email.
type BookingRenderer struct {
	siteURL string

	confirmationHTML *htmltemplate.Template
	confirmationText *texttemplate.Template
	adminText        *texttemplate.Template
	revealHTML       *htmltemplate.Template
	revealText       *texttemplate.Template
}

// NewBookingRenderer compiles the templates once at startup.
func NewBookingRenderer(siteURL string) (*BookingRenderer, error) {
	r := &BookingRenderer{siteURL: siteURL}

	var err error
	if r.confirmationHTML, err = htmltemplate.New("confirmation").Parse(confirmationHTMLTmpl); err != nil {
		return nil, fmt.Errorf("parse confirmation html template: %w", err)
	}
	if r.confirmationText, err = texttemplate.New("confirmation").Parse(confirmationTextTmpl); err != nil {
		return nil, fmt.Errorf("parse confirmation text template: %w", err)
	}
	if r.adminText, err = texttemplate.New("admin").Parse(adminTextTmpl); err != nil {
		return nil, fmt.Errorf("parse admin template: %w", err)
	}
	if r.revealHTML, err = htmltemplate.New("reveal").Parse(revealHTMLTmpl); err != nil {
		return nil, fmt.Errorf("parse reveal html template: %w", err)
	}
	if r.revealText, err = texttemplate.New("reveal").Parse(revealTextTmpl); err != nil {
		return nil, fmt.Errorf("parse reveal text template: %w", err)
	}
	return r, nil
}

// templateData is the flattened view handed to every template.
type templateData struct {
	CustomerName  string
	BookingID     string
	PackageName   string
	Destination   string
	EventName     string
	DepartureDate string
	TotalAmount   string
	SiteURL       string
}

func (r *BookingRenderer) data(b *types.Booking) templateData {
	return templateData{
		CustomerName:  b.CustomerName,
		BookingID:     b.ID,
		PackageName:   b.PackageName,
		Destination:   b.Destination,
		EventName:     b.EventName,
		DepartureDate: b.DepartureDate.Format("Monday, 2 January 2006"),
		TotalAmount:   formatAmount(b.TotalAmount, b.Currency),
		SiteURL:       r.siteURL,
	}
}

// RenderConfirmation renders the customer booking confirmation.
func (r *BookingRenderer) RenderConfirmation(b *types.Booking) (types.RenderedEmail, error) {
	data := r.data(b)
	html, err := execHTML(r.confirmationHTML, data)
	if err != nil {
		return types.RenderedEmail{}, err
	}
	text, err := execText(r.confirmationText, data)
	if err != nil {
		return types.RenderedEmail{}, err
	}
	return types.RenderedEmail{
		Subject: fmt.Sprintf("Your surprise trip is booked! (booking %s)", b.ID),
		HTML:    html,
		Text:    text,
	}, nil
}

// RenderAdminNotification renders the internal new-booking notice.
func (r *BookingRenderer) RenderAdminNotification(b *types.Booking) (types.RenderedEmail, error) {
	text, err := execText(r.adminText, r.data(b))
	if err != nil {
		return types.RenderedEmail{}, err
	}
	return types.RenderedEmail{
		Subject: fmt.Sprintf("New booking %s: %s", b.ID, b.PackageName),
		Text:    text,
	}, nil
}

// RenderReveal renders the destination reveal sent shortly before
// departure.
func (r *BookingRenderer) RenderReveal(b *types.Booking) (types.RenderedEmail, error) {
	data := r.data(b)
	html, err := execHTML(r.revealHTML, data)
	if err != nil {
		return types.RenderedEmail{}, err
	}
	text, err := execText(r.revealText, data)
	if err != nil {
		return types.RenderedEmail{}, err
	}
	return types.RenderedEmail{
		Subject: "The wait is over: your destination revealed!",
		HTML:    html,
		Text:    text,
	}, nil
}

func execHTML(t *htmltemplate.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func execText(t *texttemplate.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// formatAmount renders cents as a human amount with its currency code.
func formatAmount(cents int64, currency string) string {
	if currency == "" {
		currency = "EUR"
	}
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}

// revealDelay computes how long to wait before the reveal becomes due:
// departure minus the lead time, clamped to zero for near-term departures.
func RevealDelay(departure time.Time, leadTime time.Duration, now time.Time) time.Duration {
	due := departure.Add(-leadTime)
	if !due.After(now) {
		return 0
	}
	return due.Sub(now)
}

const confirmationHTMLTmpl = `<html><body>
<h1>You're going somewhere amazing, {{.CustomerName}}!</h1>
<p>Your <strong>{{.PackageName}}</strong> booking is confirmed.</p>
<p>Booking reference: <strong>{{.BookingID}}</strong><br>
Departure: {{.DepartureDate}}<br>
Total paid: {{.TotalAmount}}</p>
<p>Where to? That stays our secret for now. We'll reveal your destination
and the match you're seeing shortly before departure.</p>
<p><a href="{{.SiteURL}}/bookings/{{.BookingID}}">View your booking</a></p>
</body></html>
`

const confirmationTextTmpl = `You're going somewhere amazing, {{.CustomerName}}!

Your {{.PackageName}} booking is confirmed.

Booking reference: {{.BookingID}}
Departure: {{.DepartureDate}}
Total paid: {{.TotalAmount}}

Where to? That stays our secret for now. We'll reveal your destination and
the match you're seeing shortly before departure.

View your booking: {{.SiteURL}}/bookings/{{.BookingID}}
`

const adminTextTmpl = `New booking received.

Booking:   {{.BookingID}}
Package:   {{.PackageName}}
Customer:  {{.CustomerName}}
Departure: {{.DepartureDate}}
Amount:    {{.TotalAmount}}
Trip:      {{.EventName}} in {{.Destination}}

Reply to this email to reach the customer directly.
`

const revealHTMLTmpl = `<html><body>
<h1>{{.CustomerName}}, pack your bags for {{.Destination}}!</h1>
<p>Your surprise is out: you're off to see <strong>{{.EventName}}</strong>
in {{.Destination}}.</p>
<p>Departure: {{.DepartureDate}}<br>
Booking reference: {{.BookingID}}</p>
<p><a href="{{.SiteURL}}/bookings/{{.BookingID}}">Your full itinerary</a></p>
</body></html>
`

const revealTextTmpl = `{{.CustomerName}}, pack your bags for {{.Destination}}!

Your surprise is out: you're off to see {{.EventName}} in {{.Destination}}.

Departure: {{.DepartureDate}}
Booking reference: {{.BookingID}}

Your full itinerary: {{.SiteURL}}/bookings/{{.BookingID}}
`

// Compile-time assertion that BookingRenderer implements Renderer.
var _ Renderer = (*BookingRenderer)(nil)
