package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/internal/pipeline"
	"github.com/seenimoa/tickerpulse/internal/store"
	"github.com/seenimoa/tickerpulse/pkg/models"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

//go:embed "templates"
var templateFS embed.FS

var templates = template.Must(template.New("mail").Funcs(template.FuncMap{
	"plain": Plain,
	"rule":  strings.Repeat,
	"inc":   func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/*.tmpl"))

// Summaries reads stored records.
type Summaries interface {
	LatestSummary(ctx context.Context, symbol string) (*models.SummaryRecord, error)
}

// Entry is one symbol's section of a mail.
type Entry struct {
	Symbol string
	Record *models.SummaryRecord // nil when nothing is stored
	Error  string
}

// Changed reports whether the record carries a provider-written delta.
func (e Entry) Changed() bool {
	return e.Record != nil && e.Record.Status == models.SummaryOK && e.Record.Delta != ""
}

type digestData struct {
	Prefix    string
	Generated string
	Entries   []Entry
	Failed    int
}

type symbolData struct {
	Prefix    string
	Generated string
	Entry     Entry
}

// Notifier renders and sends summary mail.
type Notifier struct {
	sender     Sender
	summaries  Summaries
	from       string
	to         []string
	prefix     string
	loc        *time.Location
	attempts   int
	retryDelay time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(n *Notifier) { n.now = now } }

// WithLocation sets the zone used for the generated timestamp.
func WithLocation(loc *time.Location) Option { return func(n *Notifier) { n.loc = loc } }

// WithRetry sets the send attempts and the pause between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.attempts = attempts
		}
		n.retryDelay = delay
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option { return func(n *Notifier) { n.log = l } }

// New builds a notifier addressed per cfg.
func New(sender Sender, summaries Summaries, cfg config.NotifyConfig, opts ...Option) *Notifier {
	n := &Notifier{
		sender:     sender,
		summaries:  summaries,
		from:       cfg.From,
		to:         cfg.To,
		prefix:     cfg.SubjectPrefix,
		loc:        utils.IST,
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
		now:        time.Now,
		log:        logging.For("notify"),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SendDigest mails one message covering every symbol of the batch run.
// An empty run sends nothing.
func (n *Notifier) SendDigest(ctx context.Context, report *pipeline.BatchReport) error {
	if report == nil || len(report.Symbols) == 0 {
		n.log.Info("no symbols in batch, digest skipped")
		return nil
	}
	data := digestData{Prefix: n.prefix, Generated: n.generated(), Failed: report.Failed}
	for _, s := range report.Symbols {
		data.Entries = append(data.Entries, n.entry(ctx, s.Symbol, s.Error))
	}
	return n.deliver(ctx, "digest", data)
}

// SendSymbol mails the latest stored summary for symbol.
func (n *Notifier) SendSymbol(ctx context.Context, symbol string) error {
	e := n.entry(ctx, symbol, "")
	if e.Record == nil {
		return fmt.Errorf("notify: no summary for %s: %w", symbol, store.ErrNotFound)
	}
	return n.deliver(ctx, "symbol", symbolData{Prefix: n.prefix, Generated: n.generated(), Entry: e})
}

func (n *Notifier) entry(ctx context.Context, symbol, batchErr string) Entry {
	e := Entry{Symbol: symbol, Error: batchErr}
	rec, err := n.summaries.LatestSummary(ctx, symbol)
	switch {
	case err == nil:
		e.Record = rec
	case errors.Is(err, store.ErrNotFound):
	default:
		n.log.Warn("summary lookup failed", "symbol", symbol, "error", err)
		if e.Error == "" {
			e.Error = "summary unavailable"
		}
	}
	return e
}

func (n *Notifier) generated() string {
	return utils.FormatDateTime(n.now(), n.loc)
}

func (n *Notifier) deliver(ctx context.Context, name string, data any) error {
	var subject, body bytes.Buffer
	if err := templates.ExecuteTemplate(&subject, name+"Subject", data); err != nil {
		return fmt.Errorf("notify: render subject: %w", err)
	}
	if err := templates.ExecuteTemplate(&body, name+"Body", data); err != nil {
		return fmt.Errorf("notify: render body: %w", err)
	}
	msg := Message{
		From:    n.from,
		To:      n.to,
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
		Date:    n.now(),
	}

	var err error
	for i := 1; i <= n.attempts; i++ {
		if err = n.sender.Send(ctx, msg); err == nil {
			n.log.Info("mail sent", "kind", name, "recipients", len(msg.To), "attempt", i)
			return nil
		}
		n.log.Warn("mail attempt failed", "kind", name, "attempt", i, "error", err)
		if i == n.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.retryDelay):
		}
	}
	return fmt.Errorf("notify: send failed after %d attempts: %w", n.attempts, err)
}

var (
	headingMark = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	bulletMark  = regexp.MustCompile(`(?m)^\s*\*\s+`)
	blankRun    = regexp.MustCompile(`\n{3,}`)
)

// Plain strips HTML tags and markdown emphasis so narratives read cleanly
// in a text/plain body.
func Plain(s string) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = strings.ReplaceAll(s, "**", "")
	s = headingMark.ReplaceAllString(s, "")
	s = bulletMark.ReplaceAllString(s, "- ")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
