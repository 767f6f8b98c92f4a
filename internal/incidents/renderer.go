package incidents

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Horgix/incidents-automation-app/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

const (
	tmplPurpose      = "purpose"
	tmplTopic        = "topic"
	tmplAnnouncement = "announcement"
	tmplSummary      = "summary"
	tmplClosed       = "closed"
	tmplUpdateAck    = "update_ack"
	tmplUpdates      = "updates"
)

var (
	upperCaser = cases.Upper(language.English)
	titleCaser = cases.Title(language.English)
)

// closedColor is the chat's predefined "good" attachment color.
const closedColor = "good"

// maxRoomTextLength is the chat's limit on room purpose and topic, in
// characters.
const maxRoomTextLength = 250

// Renderer renders chat texts of incidents from templates.
type Renderer struct {
	templates  map[string]*template.Template
	trackerURL string
}

type renderData struct {
	Incident *domain.Incident
	Update   domain.Update
}

// NewRenderer loads all templates. trackerURL is the base URL used to link
// tracker issues.
func NewRenderer(trackerURL string) (*Renderer, error) {
	funcMap := template.FuncMap{
		"upper":        func(v interface{}) string { return upperCaser.String(fmt.Sprint(v)) },
		"title":        func(v interface{}) string { return titleCaser.String(fmt.Sprint(v)) },
		"formatUpdate": domain.FormatUpdate,
	}

	r := &Renderer{
		templates:  make(map[string]*template.Template),
		trackerURL: strings.TrimRight(trackerURL, "/"),
	}

	names := []string{tmplPurpose, tmplTopic, tmplAnnouncement, tmplSummary, tmplClosed, tmplUpdateAck, tmplUpdates}
	for _, name := range names {
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

func (r *Renderer) render(name string, data renderData) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// IssueLink returns a chat link to the tracker issue of an incident.
func (r *Renderer) IssueLink(inc *domain.Incident) string {
	return fmt.Sprintf("<%s/browse/%s|%s>", r.trackerURL, inc.TrackerIssueKey, inc.TrackerIssueKey)
}

// Purpose renders the incident room purpose, cut to the room text limit.
func (r *Renderer) Purpose(inc *domain.Incident) (string, error) {
	return r.roomText(tmplPurpose, inc)
}

// Topic renders the incident room topic, cut to the room text limit.
func (r *Renderer) Topic(inc *domain.Incident) (string, error) {
	return r.roomText(tmplTopic, inc)
}

func (r *Renderer) roomText(name string, inc *domain.Incident) (string, error) {
	text, err := r.render(name, renderData{Incident: inc})
	if err != nil {
		return "", err
	}
	return truncate(text, maxRoomTextLength), nil
}

// truncate cuts s to at most limit runes, ending with an ellipsis when cut.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// Announcement renders the message posted to the main room on creation.
func (r *Renderer) Announcement(inc *domain.Incident) (Message, error) {
	return r.incidentCard(tmplAnnouncement, inc)
}

// Summary renders the welcome message of the incident room.
func (r *Renderer) Summary(inc *domain.Incident) (Message, error) {
	return r.incidentCard(tmplSummary, inc)
}

func (r *Renderer) incidentCard(name string, inc *domain.Incident) (Message, error) {
	color, err := domain.ColorFor(inc.Priority)
	if err != nil {
		return Message{}, err
	}

	text, err := r.render(name, renderData{Incident: inc})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Attachments: []Attachment{{
			Text:  text,
			Color: color,
			Fields: []AttachmentField{
				{Title: "Priority", Value: titleCaser.String(string(inc.Priority)), Short: true},
				{Title: "Tracker Issue", Value: r.IssueLink(inc), Short: true},
				{Title: "Room", Value: "<#" + inc.ChatRoomID + ">", Short: true},
				{Title: "State", Value: string(inc.State), Short: true},
			},
		}},
	}, nil
}

// Closed renders the closing confirmation.
func (r *Renderer) Closed(inc *domain.Incident) (Message, error) {
	text, err := r.render(tmplClosed, renderData{Incident: inc})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Attachments: []Attachment{{
			Text:  text,
			Color: closedColor,
			Fields: []AttachmentField{
				{Title: "Tracker Issue", Value: r.IssueLink(inc), Short: true},
				{Title: "State", Value: string(inc.State), Short: true},
			},
		}},
	}, nil
}

// UpdateAck renders the acknowledgment of a logged update.
func (r *Renderer) UpdateAck(inc *domain.Incident, update domain.Update) (Message, error) {
	text, err := r.render(tmplUpdateAck, renderData{Incident: inc, Update: update})
	if err != nil {
		return Message{}, err
	}
	return Message{Attachments: []Attachment{{Text: text}}}, nil
}

// Updates renders the numbered list of updates.
func (r *Renderer) Updates(inc *domain.Incident) (Message, error) {
	text, err := r.render(tmplUpdates, renderData{Incident: inc})
	if err != nil {
		return Message{}, err
	}
	return Message{Text: text}, nil
}
