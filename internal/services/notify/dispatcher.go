package notify

import (
	"context"
	"fmt"
	"strings"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/internal/domain/service"
	"FinPilot/pkg/logger"
)

// RunSummary is the headline data embedded in the end-of-run notification.
type RunSummary struct {
	RunID          string
	Regime         string
	CompositeScore float64
	Direction      models.Direction
	AlertCount     int
	SourcesHealthy int
	SourcesDown    int
	Portfolio      bool
	BacktestFresh  bool
}

// DispatchReport counts delivered and undelivered notifications.
type DispatchReport struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Message is one outbound notification.
type Message struct {
	Title string
	Body  string
}

const callToAction = "Action required: review positions before the next rebalance."

// Dispatcher turns alert candidates and a run summary into transport calls.
type Dispatcher struct {
	transport service.NotificationTransport
	metrics   domrepo.Metrics
	log       *logger.Logger
}

func NewDispatcher(transport service.NotificationTransport, metrics domrepo.Metrics, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{transport: transport, metrics: metrics, log: log}
}

// Dispatch sends the grouped notifications followed by exactly one summary.
// It never returns an error; transport failures and panics are logged and
// counted in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []models.AlertCandidate, summary RunSummary) DispatchReport {
	var report DispatchReport
	msgs := Compose(candidates)
	msgs = append(msgs, summaryMessage(summary))
	for _, m := range msgs {
		if d.send(ctx, m) {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	d.log.Info("Notifications dispatched",
		logger.String("run_id", summary.RunID),
		logger.Int("sent", report.Sent),
		logger.Int("failed", report.Failed))
	return report
}

// Notify sends one ad-hoc message, such as a run failure notice.
func (d *Dispatcher) Notify(ctx context.Context, title, body string) bool {
	return d.send(ctx, Message{Title: title, Body: body})
}

func (d *Dispatcher) send(ctx context.Context, m Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Notification transport panicked",
				logger.String("title", m.Title),
				logger.Any("panic", r))
			ok = false
		}
		result := "sent"
		if !ok {
			result = "failed"
		}
		if d.metrics != nil {
			d.metrics.RecordNotification(result)
		}
	}()

	if d.transport == nil {
		return false
	}
	ok = d.transport.Notify(ctx, m.Title, m.Body)
	if !ok {
		d.log.Warn("Notification not delivered", logger.String("title", m.Title))
	}
	return ok
}

// Compose applies the grouping rules to the candidates, excluding the summary.
// Regime and rebalancing candidates go out one by one. SHAP shifts go out
// only at warning severity. Stability candidates are merged into one critical
// and one warning message; info stability is dropped. Score and drawdown
// candidates are persisted as alerts but not pushed.
func Compose(candidates []models.AlertCandidate) []Message {
	var (
		out              []Message
		stabilityCrit    []models.AlertCandidate
		stabilityWarning []models.AlertCandidate
	)
	for _, c := range candidates {
		switch c.Kind {
		case models.AlertRegimeChange, models.AlertRebalancingDeviation:
			out = append(out, individual(c))
		case models.AlertShapShift:
			if c.Severity == models.SeverityWarning {
				out = append(out, individual(c))
			}
		case models.AlertFeatureStability:
			switch c.Severity {
			case models.SeverityCritical:
				stabilityCrit = append(stabilityCrit, c)
			case models.SeverityWarning:
				stabilityWarning = append(stabilityWarning, c)
			}
		}
	}
	if len(stabilityCrit) > 0 {
		out = append(out, aggregate("Feature stability lost", models.SeverityCritical, stabilityCrit))
	}
	if len(stabilityWarning) > 0 {
		out = append(out, aggregate("Feature stability weakened", models.SeverityWarning, stabilityWarning))
	}
	return out
}

func individual(c models.AlertCandidate) Message {
	var b strings.Builder
	b.WriteString(c.Message)
	if c.PreviousValue != "" || c.CurrentValue != "" {
		fmt.Fprintf(&b, "\nPrevious: %s\nCurrent: %s", orDash(c.PreviousValue), orDash(c.CurrentValue))
	}
	if c.Severity == models.SeverityCritical {
		b.WriteString("\n\n")
		b.WriteString(callToAction)
	}
	return Message{
		Title: fmt.Sprintf("[%s] %s", strings.ToUpper(string(c.Severity)), c.Title),
		Body:  b.String(),
	}
}

func aggregate(title string, sev models.Severity, cs []models.AlertCandidate) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%d feature(s) changed stability class:", len(cs))
	for _, c := range cs {
		fmt.Fprintf(&b, "\n- %s/%s: %s -> %s", orDash(c.Instrument), orDash(c.Feature), c.PreviousValue, c.CurrentValue)
	}
	if sev == models.SeverityCritical {
		b.WriteString("\n\n")
		b.WriteString(callToAction)
	}
	return Message{
		Title: fmt.Sprintf("[%s] %s (%d)", strings.ToUpper(string(sev)), title, len(cs)),
		Body:  b.String(),
	}
}

func summaryMessage(s RunSummary) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Regime: %s\n", orDash(s.Regime))
	fmt.Fprintf(&b, "Composite score: %.2f (%s)\n", s.CompositeScore, orDash(string(s.Direction)))
	fmt.Fprintf(&b, "Alerts: %d\n", s.AlertCount)
	fmt.Fprintf(&b, "Data sources: %d healthy, %d down\n", s.SourcesHealthy, s.SourcesDown)
	fmt.Fprintf(&b, "Portfolio configured: %s\n", yesNo(s.Portfolio))
	fmt.Fprintf(&b, "Backtest fresh: %s", yesNo(s.BacktestFresh))
	if s.RunID != "" {
		fmt.Fprintf(&b, "\nRun: %s", s.RunID)
	}
	return Message{Title: "Daily pipeline summary", Body: b.String()}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
