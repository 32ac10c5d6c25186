// Package catalog holds the canned replies, keyword lists and menu topics of
// the chatbot. The default catalog is embedded; a YAML file may replace it.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/textnorm"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Error variables for catalog validation
var (
	ErrNoTopics        = errors.New("catalog has no topics")
	ErrDuplicateTopic  = errors.New("duplicate topic id")
	ErrMissingTemplate = errors.New("missing template")
)

// Topic is one main-menu option.
type Topic struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title"`
	Aliases   []string `yaml:"aliases"`
	Content   string   `yaml:"content"`
	DrillDown bool     `yaml:"drill_down"` // enters the sub-menu after the content
	Handoff   bool     `yaml:"handoff"`    // asks for a handoff reason instead of content
}

// Keywords are the phrase lists used by the intent classifier. Entries are
// compared in normalized form.
type Keywords struct {
	Greeting       []string `yaml:"greeting"`
	Price          []string `yaml:"price"`
	Schedule       []string `yaml:"schedule"`
	PaymentReceipt []string `yaml:"payment_receipt"`
	Handoff        []string `yaml:"handoff"`
	MoreInfo       []string `yaml:"more_info"`
	Exit           []string `yaml:"exit"`
	Wake           []string `yaml:"wake"`
	Ack            []string `yaml:"ack"`
}

// Catalog is the full set of canned content.
type Catalog struct {
	Organization string `yaml:"organization"`

	MenuTemplate    string `yaml:"menu_template"`
	SubMenuTemplate string `yaml:"submenu_template"`
	NotUnderstood   string `yaml:"not_understood"`
	Closing         string `yaml:"closing"`
	GenericFailure  string `yaml:"generic_failure"`
	Pricing         string `yaml:"pricing"`
	Scheduling      string `yaml:"scheduling"`
	PaymentAck      string `yaml:"payment_ack"`

	HandoffPrompt         string `yaml:"handoff_prompt"`
	HandoffAck            string `yaml:"handoff_ack"`
	HandoffNoticeTemplate string `yaml:"handoff_notice_template"`

	AttachmentAck             string `yaml:"attachment_ack"`
	ResendRequest             string `yaml:"resend_request"`
	AttachmentSummaryTemplate string `yaml:"attachment_summary_template"`
	PendingForwardTemplate    string `yaml:"pending_forward_template"`

	ReminderTemplate string `yaml:"reminder_template"`

	Topics   []Topic  `yaml:"topics"`
	Keywords Keywords `yaml:"keywords"`

	tmpl *template.Template
}

// Template names inside the compiled set.
const (
	tmplMenu           = "menu"
	tmplSubMenu        = "submenu"
	tmplHandoffNotice  = "handoff_notice"
	tmplSummary        = "attachment_summary"
	tmplPendingForward = "pending_forward"
	tmplReminder       = "reminder"
)

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog from a YAML file. An empty path returns the default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	slog.Debug("Catalog loaded from file", "path", path, "topics", len(c.Topics))
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

// compile validates the catalog and parses its templates.
func (c *Catalog) compile() error {
	if len(c.Topics) == 0 {
		return ErrNoTopics
	}
	seen := make(map[string]bool, len(c.Topics))
	for _, t := range c.Topics {
		id := textnorm.Normalize(t.ID)
		if id == "" {
			return fmt.Errorf("topic %q: empty id", t.Title)
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateTopic, t.ID)
		}
		seen[id] = true
	}

	root := template.New("catalog").Option("missingkey=zero")
	for name, text := range map[string]string{
		tmplMenu:           c.MenuTemplate,
		tmplSubMenu:        c.SubMenuTemplate,
		tmplHandoffNotice:  c.HandoffNoticeTemplate,
		tmplSummary:        c.AttachmentSummaryTemplate,
		tmplPendingForward: c.PendingForwardTemplate,
		tmplReminder:       c.ReminderTemplate,
	} {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: %s", ErrMissingTemplate, name)
		}
		if _, err := root.New(name).Parse(text); err != nil {
			return fmt.Errorf("failed to parse %s template: %w", name, err)
		}
	}
	c.tmpl = root
	return nil
}

// render executes a compiled template. Execution errors are logged and yield
// an empty string; templates are validated at load time.
func (c *Catalog) render(name string, data any) string {
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Catalog.render: template execution failed", "template", name, "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// Topic looks up a topic by id, returning nil when unknown.
func (c *Catalog) Topic(id string) *Topic {
	id = textnorm.Normalize(id)
	for i := range c.Topics {
		if textnorm.Normalize(c.Topics[i].ID) == id {
			return &c.Topics[i]
		}
	}
	return nil
}

// MainMenu renders the main menu for a party.
func (c *Catalog) MainMenu(firstName string) string {
	return c.render(tmplMenu, struct {
		Name   string
		Topics []Topic
	}{firstName, c.Topics})
}

// SubMenu renders the drill-down prompt.
func (c *Catalog) SubMenu(firstName string) string {
	return c.render(tmplSubMenu, struct{ Name string }{firstName})
}

// HandoffNotice renders the operator notice for a handoff request.
func (c *Catalog) HandoffNotice(name, number, reason string, at time.Time) string {
	return c.render(tmplHandoffNotice, struct {
		Name, Number, Reason string
		Time                 time.Time
	}{name, number, reason, at})
}

// AttachmentSummary is the data shown to the back office for a received file.
type AttachmentSummary struct {
	Name     string
	Number   string
	Type     string
	StoredAs string
	Caption  string
	Time     time.Time
}

// Summary renders the back-office summary of a received attachment.
func (c *Catalog) Summary(s AttachmentSummary) string {
	return c.render(tmplSummary, s)
}

// PendingForwardHeader renders the line sent before a relayed follow-up text.
func (c *Catalog) PendingForwardHeader(name, number string) string {
	return c.render(tmplPendingForward, struct{ Name, Number string }{name, number})
}

// Reminder renders the follow-up reminder.
func (c *Catalog) Reminder(firstName string) string {
	return c.render(tmplReminder, struct{ Name string }{firstName})
}
